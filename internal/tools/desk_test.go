package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deskAgent = Caller{
	AgentID: "support",
	Tools:   []string{"create_support_ticket", "search_knowledge_base", "create_lead"},
	Scopes:  []string{ScopeTicketsWrite, ScopeLeadsWrite},
}

func TestCreateSupportTicket(t *testing.T) {
	desk := NewMemoryDesk()
	e := newExecutor(t, DeskTools(desk, nil)...)
	sink := &captureSink{}

	res, err := e.Invoke(context.Background(), "create_support_ticket",
		json.RawMessage(`{"subject":"login broken","description":"password reset mail never arrives","customer_email":"ada@example.com"}`),
		deskAgent, sink)
	require.NoError(t, err)

	var tk Ticket
	require.NoError(t, json.Unmarshal(res.Output, &tk))
	assert.Regexp(t, `^TKT-[0-9A-F]{8}$`, tk.ID)
	assert.Equal(t, "medium", tk.Priority)
	assert.Equal(t, "open", tk.Status)
	assert.NotContains(t, string(sink.result(t).Result), "ada@example.com")

	require.Len(t, desk.Tickets(), 1)
	assert.Equal(t, "login broken", desk.Tickets()[0].Subject)

	_, err = e.Invoke(context.Background(), "create_support_ticket",
		json.RawMessage(`{"subject":"x","description":"y","priority":"whenever"}`), deskAgent, &captureSink{})
	assert.True(t, IsCode(err, CodeInvalidArguments))
}

func TestCreateSupportTicketNeedsScope(t *testing.T) {
	e := newExecutor(t, DeskTools(NewMemoryDesk(), nil)...)
	noScope := Caller{AgentID: "general", Tools: deskAgent.Tools}
	_, err := e.Invoke(context.Background(), "create_support_ticket",
		json.RawMessage(`{"subject":"x","description":"y"}`), noScope, &captureSink{})
	assert.True(t, IsCode(err, CodeUnauthorized))
}

func TestCreateLead(t *testing.T) {
	desk := NewMemoryDesk()
	e := newExecutor(t, DeskTools(desk, nil)...)

	res, err := e.Invoke(context.Background(), "create_lead",
		json.RawMessage(`{"name":"Grace","company":"Navy","phone":"+15550199"}`), deskAgent, &captureSink{})
	require.NoError(t, err)
	var l Lead
	require.NoError(t, json.Unmarshal(res.Output, &l))
	assert.Regexp(t, `^LEAD-`, l.ID)
	assert.Equal(t, "general inquiry", l.Interest)
	require.Len(t, desk.Leads(), 1)

	_, err = e.Invoke(context.Background(), "create_lead", json.RawMessage(`{"name":""}`), deskAgent, &captureSink{})
	assert.True(t, IsCode(err, CodeInvalidArguments))
}

func TestSearchKnowledgeBase(t *testing.T) {
	e := newExecutor(t, DeskTools(NewMemoryDesk(), nil)...)
	ctx := context.Background()

	res, err := e.Invoke(ctx, "search_knowledge_base", json.RawMessage(`{"query":"Is there parking near you?"}`), deskAgent, &captureSink{})
	require.NoError(t, err)
	var out struct {
		Found    bool      `json:"found"`
		Answer   string    `json:"answer"`
		Articles []Article `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.True(t, out.Found)
	assert.Contains(t, out.Answer, "parking")
	assert.Equal(t, "faq-2", out.Articles[0].ID)

	res, err = e.Invoke(ctx, "search_knowledge_base", json.RawMessage(`{"query":"zebra migration"}`), deskAgent, &captureSink{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":false}`, string(res.Output))

	_, err = e.Invoke(ctx, "search_knowledge_base", json.RawMessage(`{"query":" "}`), deskAgent, &captureSink{})
	assert.True(t, IsCode(err, CodePermanent))
}

func TestStaticKnowledgeBaseCategory(t *testing.T) {
	kb := DefaultKnowledgeBase()
	got, err := kb.Search(context.Background(), "", "Payments")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "faq-3", got[0].ID)

	got, err = kb.Search(context.Background(), "how much does the pro plan cost", "")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "faq-4", got[0].ID)
}
