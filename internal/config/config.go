package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

func ptr(f float64) *float64 { return &f }

// Defaults returns a Config with sensible defaults applied, including the
// receptionist, scheduler, support, sales and handoff agents and the
// booking workflow.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18789,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			MaxConns:      10,
			HistoryWindow: 10,
		},
		Lease: LeaseConfig{
			Driver:     "memory",
			TTLSeconds: 30,
			Prefix:     "switchboard:lease:",
		},
		Orchestrator: OrchestratorConfig{
			TurnTimeoutSeconds:   15,
			ConversationTTLHours: 24,
			SweepIntervalMinutes: 10,
			FallbackMessage:      "Sorry, I'm having trouble right now. Could you say that again?",
			ClosedMessage:        "This conversation has ended. Please start a new one.",
			NodeID:               1,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 10,
			MaxAttempts:    3,
			BackoffMs:      200,
		},
		LLM: LLMConfig{
			Default: "scripted",
		},
		Agents:    defaultAgents(),
		Workflows: defaultWorkflows(),
	}
}

func defaultAgents() AgentsConfig {
	return AgentsConfig{
		Default:           "general",
		Handoff:           "human_handoff",
		FallbackThreshold: 0.3,
		FallbackTurns:     3,
		List: []AgentEntry{
			{
				ID:     "general",
				Role:   "Front-desk receptionist. Answers general questions and directs callers.",
				Tools:  []string{"check_business_hours", "search_knowledge_base", "lookup_customer", "escalate_to_human"},
				Scopes: []string{"customers:read"},
				Transfers: []TransferEntry{
					{Intent: "human_request", Target: "human_handoff"},
					{Intent: "book_appointment", MinConfidence: ptr(0.7), Target: "scheduler"},
					{Intent: "support", MinConfidence: ptr(0.7), Target: "support"},
					{Intent: "sales_inquiry", MinConfidence: ptr(0.7), Target: "sales"},
					{Fallback: true, Target: "human_handoff"},
				},
			},
			{
				ID:       "scheduler",
				Role:     "Appointment scheduler. Books appointments during business hours.",
				Tools:    []string{"create_booking", "cancel_appointment", "check_availability", "check_business_hours", "escalate_to_human"},
				Scopes:   []string{"bookings:read", "bookings:write"},
				Workflow: "book_appointment",
				Transfers: []TransferEntry{
					{Intent: "human_request", Target: "human_handoff"},
					{Fallback: true, Target: "human_handoff"},
				},
			},
			{
				ID:     "support",
				Role:   "Technical support. Troubleshoots problems step by step and opens a ticket when an issue needs follow-up.",
				Tools:  []string{"search_knowledge_base", "create_support_ticket", "lookup_customer", "escalate_to_human"},
				Scopes: []string{"tickets:write", "customers:read"},
				Transfers: []TransferEntry{
					{Intent: "human_request", Target: "human_handoff"},
					{Intent: "book_appointment", MinConfidence: ptr(0.7), Target: "scheduler"},
					{Fallback: true, Target: "human_handoff"},
				},
			},
			{
				ID:     "sales",
				Role:   "Sales assistant. Explains plans and pricing and records a lead when the caller wants a follow-up.",
				Tools:  []string{"search_knowledge_base", "create_lead", "escalate_to_human"},
				Scopes: []string{"leads:write"},
				Transfers: []TransferEntry{
					{Intent: "human_request", Target: "human_handoff"},
					{Intent: "book_appointment", MinConfidence: ptr(0.7), Target: "scheduler"},
					{Fallback: true, Target: "human_handoff"},
				},
			},
			{
				ID:    "human_handoff",
				Role:  "Human handoff queue.",
				Reply: "I'm connecting you with a member of our team. Someone will be with you shortly.",
			},
		},
	}
}

func defaultWorkflows() []WorkflowEntry {
	return []WorkflowEntry{
		{
			Name:       "book_appointment",
			Intent:     "book_appointment",
			MaxRetries: 3,
			Steps: []StepEntry{
				{
					Slot:        "date",
					Validator:   "date",
					Prompt:      "What date would you like to come in? (YYYY-MM-DD)",
					RetryPrompt: "Sorry, I need the date as YYYY-MM-DD, for example 2025-03-04.",
				},
				{
					Slot:        "time",
					Validator:   "time",
					Prompt:      "What time works for you? (HH:MM)",
					RetryPrompt: "Sorry, I need the time as HH:MM, for example 14:00.",
				},
			},
			Action: ActionEntry{
				Tool: "create_booking",
				Args: map[string]string{"date": "date", "time": "time"},
			},
			Confirm: "You're booked for {date} at {time}. Your confirmation number is {result.confirmation}.",
		},
	}
}
