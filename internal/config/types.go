package config

import "time"

// Config is the root configuration for switchboard.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
	Store        StoreConfig        `yaml:"store,omitempty"`
	Lease        LeaseConfig        `yaml:"lease,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Tools        ToolsConfig        `yaml:"tools,omitempty"`
	LLM          LLMConfig          `yaml:"llm,omitempty"`
	Agents       AgentsConfig       `yaml:"agents,omitempty"`
	Workflows    []WorkflowEntry    `yaml:"workflows,omitempty"`
	Calendar     *CalendarConfig    `yaml:"calendar,omitempty"`
	Channels     ChannelsConfig     `yaml:"channels,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password" | "none"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// StoreConfig selects the event and conversation backend.
type StoreConfig struct {
	Driver        string `yaml:"driver,omitempty"` // "sqlite" | "postgres" | "memory"
	Path          string `yaml:"path,omitempty"`   // sqlite file, defaults under the data dir
	DSN           string `yaml:"dsn,omitempty"`    // postgres
	MaxConns      int    `yaml:"maxConns,omitempty"`
	HistoryWindow int    `yaml:"historyWindow,omitempty"`
}

// LeaseConfig selects the per-conversation lease backend.
type LeaseConfig struct {
	Driver        string `yaml:"driver,omitempty"` // "memory" | "redis"
	TTLSeconds    int    `yaml:"ttlSeconds,omitempty"`
	RedisAddr     string `yaml:"redisAddr,omitempty"`
	RedisPassword string `yaml:"redisPassword,omitempty"`
	RedisDB       int    `yaml:"redisDb,omitempty"`
	Prefix        string `yaml:"prefix,omitempty"`
}

// TTL returns the lease timeout.
func (l LeaseConfig) TTL() time.Duration { return time.Duration(l.TTLSeconds) * time.Second }

// OrchestratorConfig tunes the turn pipeline.
type OrchestratorConfig struct {
	TurnTimeoutSeconds   int    `yaml:"turnTimeoutSeconds,omitempty"`
	ConversationTTLHours int    `yaml:"conversationTtlHours,omitempty"`
	SweepIntervalMinutes int    `yaml:"sweepIntervalMinutes,omitempty"`
	FallbackMessage      string `yaml:"fallbackMessage,omitempty"`
	ClosedMessage        string `yaml:"closedMessage,omitempty"`
	NodeID               int64  `yaml:"nodeId,omitempty"` // snowflake node for event IDs
}

// TurnTimeout returns the per-turn deadline.
func (o OrchestratorConfig) TurnTimeout() time.Duration {
	return time.Duration(o.TurnTimeoutSeconds) * time.Second
}

// ConversationTTL returns the inactivity period after which a conversation expires.
func (o OrchestratorConfig) ConversationTTL() time.Duration {
	return time.Duration(o.ConversationTTLHours) * time.Hour
}

// SweepInterval returns how often expired conversations are deleted.
func (o OrchestratorConfig) SweepInterval() time.Duration {
	return time.Duration(o.SweepIntervalMinutes) * time.Minute
}

// ToolsConfig configures the tool executor and the builtin tools.
type ToolsConfig struct {
	TimeoutSeconds int               `yaml:"timeoutSeconds,omitempty"`
	MaxAttempts    int               `yaml:"maxAttempts,omitempty"`
	BackoffMs      int               `yaml:"backoffMs,omitempty"`
	PolicyFile     string            `yaml:"policyFile,omitempty"` // rego, replaces the default policy
	BusinessHours  map[string]string `yaml:"businessHours,omitempty"`
	Customers      []CustomerEntry   `yaml:"customers,omitempty"`
	Knowledge      []ArticleEntry    `yaml:"knowledge,omitempty"` // replaces the default FAQ
}

// ArticleEntry is a knowledge base article served by search_knowledge_base.
type ArticleEntry struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category,omitempty"`
	Question string   `yaml:"question"`
	Answer   string   `yaml:"answer"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// CustomerEntry seeds the lookup_customer directory.
type CustomerEntry struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Phone         string `yaml:"phone,omitempty"`
	Email         string `yaml:"email,omitempty"`
	AccountStatus string `yaml:"accountStatus,omitempty"`
}

// LLMConfig defines the completion providers.
type LLMConfig struct {
	Default   string                 `yaml:"default,omitempty"`
	Providers map[string]LLMProvider `yaml:"providers,omitempty"`
}

// LLMProvider is an OpenAI-compatible endpoint.
type LLMProvider struct {
	BaseURL   string   `yaml:"baseUrl,omitempty"`
	APIKey    string   `yaml:"apiKey,omitempty"`
	Model     string   `yaml:"model,omitempty"`
	MaxTokens int      `yaml:"maxTokens,omitempty"`
	Aliases   []string `yaml:"aliases,omitempty"` // model names routed to this provider
}

// AgentsConfig defines the agent personas and routing thresholds.
type AgentsConfig struct {
	Default           string       `yaml:"default,omitempty"`
	Handoff           string       `yaml:"handoff,omitempty"`
	FallbackThreshold float64      `yaml:"fallbackThreshold,omitempty"`
	FallbackTurns     int          `yaml:"fallbackTurns,omitempty"`
	List              []AgentEntry `yaml:"list,omitempty"`
}

// AgentEntry defines a single agent.
type AgentEntry struct {
	ID          string          `yaml:"id"`
	Role        string          `yaml:"role,omitempty"`
	Prompt      string          `yaml:"prompt,omitempty"`
	Reply       string          `yaml:"reply,omitempty"` // fixed reply, no completion call
	Model       string          `yaml:"model,omitempty"`
	Fallbacks   []string        `yaml:"fallbacks,omitempty"`
	MaxTokens   int             `yaml:"maxTokens,omitempty"`
	Temperature *float64        `yaml:"temperature,omitempty"`
	Tools       []string        `yaml:"tools,omitempty"`
	Scopes      []string        `yaml:"scopes,omitempty"`
	Workflow    string          `yaml:"workflow,omitempty"`
	Transfers   []TransferEntry `yaml:"transfers,omitempty"`
}

// TransferEntry is one transfer predicate. All set conditions must hold.
type TransferEntry struct {
	Intent        string   `yaml:"intent,omitempty"`
	MinConfidence *float64 `yaml:"minConfidence,omitempty"`
	MaxConfidence *float64 `yaml:"maxConfidence,omitempty"`
	Fallback      bool     `yaml:"fallback,omitempty"`
	Target        string   `yaml:"target"`
}

// WorkflowEntry defines a slot-filling workflow.
type WorkflowEntry struct {
	Name       string      `yaml:"name"`
	Intent     string      `yaml:"intent,omitempty"` // restarts a finished workflow
	MaxRetries int         `yaml:"maxRetries,omitempty"`
	Steps      []StepEntry `yaml:"steps"`
	Action     ActionEntry `yaml:"action"`
	Confirm    string      `yaml:"confirm,omitempty"` // "{slot}" and "{result.field}" placeholders
}

// StepEntry collects one slot.
type StepEntry struct {
	Slot        string   `yaml:"slot"`
	Validator   string   `yaml:"validator,omitempty"` // "nonempty" | "date" | "time" | "regex" | "enum"
	Pattern     string   `yaml:"pattern,omitempty"`
	Values      []string `yaml:"values,omitempty"`
	Prompt      string   `yaml:"prompt"`
	RetryPrompt string   `yaml:"retryPrompt,omitempty"`
}

// ActionEntry is the terminal tool call of a workflow.
type ActionEntry struct {
	Tool string            `yaml:"tool"`
	Args map[string]string `yaml:"args,omitempty"` // tool argument -> slot name
}

// CalendarConfig enables the Google Calendar booking backend.
type CalendarConfig struct {
	CredentialsFile string `yaml:"credentialsFile"`
	TokenFile       string `yaml:"tokenFile,omitempty"`
	CalendarID      string `yaml:"calendarId,omitempty"`
	TimeZone        string `yaml:"timeZone,omitempty"`
	SlotMinutes     int    `yaml:"slotMinutes,omitempty"`
}

// ChannelsConfig defines channel-specific configurations.
type ChannelsConfig struct {
	// Scope maps channel chats to conversations: "per-sender" (default)
	// gives each sender in a group chat their own conversation, "per-chat"
	// shares one conversation per chat.
	Scope string     `yaml:"scope,omitempty"`
	IRC   *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
}
