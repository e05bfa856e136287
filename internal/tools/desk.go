package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Scopes required by the service desk tools.
const (
	ScopeTicketsWrite = "tickets:write"
	ScopeLeadsWrite   = "leads:write"
)

// Ticket is a support request awaiting follow-up.
type Ticket struct {
	ID          string `json:"ticket_id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Email       string `json:"customer_email,omitempty"`
	Status      string `json:"status"`
}

// Lead is a sales prospect awaiting follow-up.
type Lead struct {
	ID       string `json:"lead_id"`
	Name     string `json:"name"`
	Company  string `json:"company,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Interest string `json:"interest"`
	Notes    string `json:"notes,omitempty"`
}

// Desk records tickets and leads for people to follow up.
type Desk interface {
	OpenTicket(ctx context.Context, t Ticket) (Ticket, error)
	CreateLead(ctx context.Context, l Lead) (Lead, error)
}

// MemoryDesk keeps tickets and leads in process.
type MemoryDesk struct {
	mu      sync.Mutex
	tickets map[string]Ticket
	leads   map[string]Lead
}

func NewMemoryDesk() *MemoryDesk {
	return &MemoryDesk{tickets: make(map[string]Ticket), leads: make(map[string]Lead)}
}

func (d *MemoryDesk) OpenTicket(_ context.Context, t Ticket) (Ticket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t.ID = shortID("TKT")
	t.Status = "open"
	d.tickets[t.ID] = t
	return t, nil
}

func (d *MemoryDesk) CreateLead(_ context.Context, l Lead) (Lead, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.ID = shortID("LEAD")
	d.leads[l.ID] = l
	return l, nil
}

// Tickets returns the open tickets, ordered by ID.
func (d *MemoryDesk) Tickets() []Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Ticket, 0, len(d.tickets))
	for _, t := range d.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Leads returns the recorded leads, ordered by ID.
func (d *MemoryDesk) Leads() []Lead {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Lead, 0, len(d.leads))
	for _, l := range d.leads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func shortID(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + id[:8]
}

// Article is a knowledge base entry.
type Article struct {
	ID       string   `json:"id" yaml:"id"`
	Category string   `json:"category" yaml:"category"`
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// KnowledgeBase answers customer questions from FAQ articles.
type KnowledgeBase interface {
	Search(ctx context.Context, query, category string) ([]Article, error)
}

// StaticKnowledgeBase scores a fixed article list by keyword and word
// overlap with the query.
type StaticKnowledgeBase []Article

// maxArticles bounds a search result.
const maxArticles = 3

func (kb StaticKnowledgeBase) Search(_ context.Context, query, category string) ([]Article, error) {
	q := strings.ToLower(query)
	words := strings.Fields(q)
	type scored struct {
		a     Article
		score float64
	}
	var hits []scored
	for _, a := range kb {
		if category != "" && !strings.EqualFold(a.Category, category) {
			continue
		}
		score := 0.0
		for _, k := range a.Keywords {
			if k != "" && strings.Contains(q, strings.ToLower(k)) {
				score += 2
			}
		}
		question := strings.ToLower(a.Question)
		for _, w := range words {
			if len(w) > 3 && strings.Contains(question, w) {
				score += 0.5
			}
		}
		if score > 0 || (category != "" && query == "") {
			hits = append(hits, scored{a, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]Article, 0, maxArticles)
	for i := 0; i < len(hits) && i < maxArticles; i++ {
		out = append(out, hits[i].a)
	}
	return out, nil
}

// DefaultKnowledgeBase is used when no articles are configured.
func DefaultKnowledgeBase() StaticKnowledgeBase {
	return StaticKnowledgeBase{
		{ID: "faq-1", Category: "appointments", Question: "How do I cancel or reschedule an appointment?",
			Answer:   "Give us your confirmation number and we can cancel it. Cancellations are free up to 24 hours before.",
			Keywords: []string{"cancel", "reschedule", "confirmation"}},
		{ID: "faq-2", Category: "location", Question: "Where are you located and is there parking?",
			Answer:   "We're at 100 Main Street. Free parking is available behind the building.",
			Keywords: []string{"address", "located", "parking", "directions"}},
		{ID: "faq-3", Category: "payments", Question: "Which payment methods do you accept?",
			Answer:   "We accept all major cards, bank transfer and cash.",
			Keywords: []string{"pay", "payment", "card", "cash", "invoice"}},
		{ID: "faq-4", Category: "pricing", Question: "What plans do you offer and how much do they cost?",
			Answer:   "Basic is $29/month, Professional $79/month and Enterprise is quoted per customer.",
			Keywords: []string{"price", "pricing", "plan", "cost", "quote"}},
		{ID: "faq-5", Category: "support", Question: "My account is not working, what should I do?",
			Answer:   "Try signing out and back in. If the problem continues we'll open a ticket for our support team.",
			Keywords: []string{"not working", "login", "password", "account", "error"}},
	}
}

type ticketArgs struct {
	Subject     string `json:"subject" jsonschema:"description=Brief description of the issue,minLength=1"`
	Description string `json:"description" jsonschema:"description=Detailed description of the problem,minLength=1"`
	Priority    string `json:"priority,omitempty" jsonschema:"description=Ticket priority,enum=low,enum=medium,enum=high,enum=urgent"`
	Email       string `json:"customer_email,omitempty" jsonschema:"description=Customer email for updates"`
}

type knowledgeArgs struct {
	Query    string `json:"query" jsonschema:"description=The customer's question"`
	Category string `json:"category,omitempty" jsonschema:"description=Optional category such as payments or pricing"`
}

type leadArgs struct {
	Name     string `json:"name" jsonschema:"description=Lead's name,minLength=1"`
	Company  string `json:"company,omitempty" jsonschema:"description=Company name"`
	Phone    string `json:"phone,omitempty" jsonschema:"description=Contact phone number"`
	Email    string `json:"email,omitempty" jsonschema:"description=Contact email"`
	Interest string `json:"interest,omitempty" jsonschema:"description=Product or service of interest"`
	Notes    string `json:"notes,omitempty" jsonschema:"description=Additional notes"`
}

// DeskTools returns the support and sales tools over the given backends.
// A nil knowledge base serves DefaultKnowledgeBase.
func DeskTools(desk Desk, kb KnowledgeBase) []Definition {
	if kb == nil {
		kb = DefaultKnowledgeBase()
	}
	return []Definition{
		{
			Name:        "create_support_ticket",
			Description: "Create a support ticket for issues that need human follow-up.",
			Parameters:  SchemaFor(&ticketArgs{}),
			Scope:       ScopeTicketsWrite,
			Redact:      []string{"customer_email"},
			Handler: Typed(func(ctx context.Context, a ticketArgs) (any, error) {
				if a.Priority == "" {
					a.Priority = "medium"
				}
				return desk.OpenTicket(ctx, Ticket{Subject: a.Subject, Description: a.Description, Priority: a.Priority, Email: a.Email})
			}),
		},
		{
			Name:        "search_knowledge_base",
			Description: "Search the FAQ and knowledge base for answers to customer questions.",
			Parameters:  SchemaFor(&knowledgeArgs{}),
			Handler: Typed(func(ctx context.Context, a knowledgeArgs) (any, error) {
				if strings.TrimSpace(a.Query) == "" && a.Category == "" {
					return nil, errors.New("provide a question or a category")
				}
				found, err := kb.Search(ctx, a.Query, a.Category)
				if err != nil {
					return nil, fmt.Errorf("searching knowledge base: %w", err)
				}
				if len(found) == 0 {
					return map[string]any{"found": false}, nil
				}
				return map[string]any{"found": true, "answer": found[0].Answer, "articles": found}, nil
			}),
		},
		{
			Name:        "create_lead",
			Description: "Record a sales lead for follow-up.",
			Parameters:  SchemaFor(&leadArgs{}),
			Scope:       ScopeLeadsWrite,
			Redact:      []string{"phone", "email"},
			Handler: Typed(func(ctx context.Context, a leadArgs) (any, error) {
				if a.Interest == "" {
					a.Interest = "general inquiry"
				}
				return desk.CreateLead(ctx, Lead{Name: a.Name, Company: a.Company, Phone: a.Phone, Email: a.Email, Interest: a.Interest, Notes: a.Notes})
			}),
		},
	}
}
