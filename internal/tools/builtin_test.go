package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receptionist = Caller{
	AgentID: "scheduler",
	Tools:   []string{"create_booking", "cancel_appointment", "check_availability", "check_business_hours", "lookup_customer", "escalate_to_human"},
	Scopes:  []string{ScopeBookingsRead, ScopeBookingsWrite, ScopeCustomersRead},
}

func builtinExecutor(t *testing.T) *Executor {
	dir := StaticDirectory{{ID: "CUST-1", Name: "Ada", Phone: "+15550100", Email: "ada@example.com", AccountStatus: "active"}}
	return newExecutor(t, Builtins(NewMemoryBooker(), DefaultBusinessHours(), dir)...)
}

func TestCreateBooking(t *testing.T) {
	e := builtinExecutor(t)
	ctx := context.Background()

	// 2025-03-04 is a Tuesday.
	res, err := e.Invoke(ctx, "create_booking", json.RawMessage(`{"date":"2025-03-04","time":"14:00"}`), receptionist, &captureSink{})
	require.NoError(t, err)
	var b Booking
	require.NoError(t, json.Unmarshal(res.Output, &b))
	assert.Equal(t, "2025-03-04", b.Date)
	assert.Regexp(t, `^APT-`, b.Confirmation)

	_, err = e.Invoke(ctx, "create_booking", json.RawMessage(`{"date":"2025-03-04","time":"14:00"}`), receptionist, &captureSink{})
	assert.True(t, IsCode(err, CodePermanent))
	assert.True(t, errors.Is(err, ErrSlotTaken))

	// Sunday is closed.
	_, err = e.Invoke(ctx, "create_booking", json.RawMessage(`{"date":"2025-03-09","time":"10:00"}`), receptionist, &captureSink{})
	assert.True(t, IsCode(err, CodePermanent))

	_, err = e.Invoke(ctx, "create_booking", json.RawMessage(`{"date":"tomorrow","time":"10:00"}`), receptionist, &captureSink{})
	assert.True(t, IsCode(err, CodeInvalidArguments))
}

func TestCreateBookingUnconfiguredHours(t *testing.T) {
	e := newExecutor(t, Builtins(NewMemoryBooker(), nil, StaticDirectory{})...)

	// Saturday at closing time and a Sunday are accepted without configured hours.
	for _, args := range []string{`{"date":"2025-03-01","time":"14:00"}`, `{"date":"2025-03-09","time":"10:00"}`} {
		res, err := e.Invoke(context.Background(), "create_booking", json.RawMessage(args), receptionist, &captureSink{})
		require.NoError(t, err, args)
		var b Booking
		require.NoError(t, json.Unmarshal(res.Output, &b))
		assert.Regexp(t, `^APT-`, b.Confirmation)
	}

	res, err := e.Invoke(context.Background(), "check_business_hours", json.RawMessage(`{"day":"saturday"}`), receptionist, &captureSink{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"Saturday","hours":"10:00-14:00"}`, string(res.Output))
}

func TestCancelAppointment(t *testing.T) {
	e := builtinExecutor(t)
	ctx := context.Background()

	res, err := e.Invoke(ctx, "create_booking", json.RawMessage(`{"date":"2025-03-04","time":"10:00"}`), receptionist, &captureSink{})
	require.NoError(t, err)
	var b Booking
	require.NoError(t, json.Unmarshal(res.Output, &b))

	args := json.RawMessage(`{"confirmation_number":"` + b.Confirmation + `","reason":"sick"}`)
	res, err = e.Invoke(ctx, "cancel_appointment", args, receptionist, &captureSink{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"confirmation":"`+b.Confirmation+`","date":"2025-03-04","time":"10:00","status":"cancelled"}`, string(res.Output))

	_, err = e.Invoke(ctx, "cancel_appointment", args, receptionist, &captureSink{})
	assert.True(t, IsCode(err, CodePermanent))
	assert.ErrorIs(t, err, ErrNoBooking)

	// The slot is free again.
	_, err = e.Invoke(ctx, "create_booking", json.RawMessage(`{"date":"2025-03-04","time":"10:00"}`), receptionist, &captureSink{})
	assert.NoError(t, err)
}

type bookOnly struct{ Booker }

func TestCancelUnsupportedBooker(t *testing.T) {
	e := newExecutor(t, Builtins(bookOnly{NewMemoryBooker()}, nil, StaticDirectory{})...)
	_, err := e.Invoke(context.Background(), "cancel_appointment", json.RawMessage(`{"confirmation_number":"APT-1"}`), receptionist, &captureSink{})
	assert.True(t, IsCode(err, CodePermanent))
}

func TestCheckAvailability(t *testing.T) {
	e := builtinExecutor(t)
	ctx := context.Background()
	_, err := e.Invoke(ctx, "create_booking", json.RawMessage(`{"date":"2025-03-08","time":"11:00"}`), receptionist, &captureSink{})
	require.NoError(t, err)

	// Saturday 10:00-14:00.
	res, err := e.Invoke(ctx, "check_availability", json.RawMessage(`{"date":"2025-03-08"}`), receptionist, &captureSink{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-03-08","available_slots":["10:00","12:00","13:00"]}`, string(res.Output))
}

func TestCheckBusinessHours(t *testing.T) {
	e := builtinExecutor(t)
	res, err := e.Invoke(context.Background(), "check_business_hours", json.RawMessage(`{"day":"friday"}`), receptionist, &captureSink{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"Friday","hours":"09:00-17:00"}`, string(res.Output))
}

func TestLookupCustomerRedacts(t *testing.T) {
	e := builtinExecutor(t)
	sink := &captureSink{}
	res, err := e.Invoke(context.Background(), "lookup_customer", json.RawMessage(`{"phone":"+15550100"}`), receptionist, sink)
	require.NoError(t, err)
	assert.Contains(t, string(res.Output), "Ada")
	assert.NotContains(t, string(sink.evs[1].Payload), "+15550100")
	assert.NotContains(t, string(sink.evs[1].Payload), "ada@example.com")

	res, err = e.Invoke(context.Background(), "lookup_customer", json.RawMessage(`{"email":"nobody@example.com"}`), receptionist, &captureSink{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":false}`, string(res.Output))

	_, err = e.Invoke(context.Background(), "lookup_customer", json.RawMessage(`{}`), receptionist, &captureSink{})
	assert.True(t, IsCode(err, CodePermanent))
}

func TestEscalateToHuman(t *testing.T) {
	e := builtinExecutor(t)
	res, err := e.Invoke(context.Background(), "escalate_to_human", json.RawMessage(`{"reason":"refund dispute"}`), receptionist, &captureSink{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"escalated":true,"reason":"refund dispute"}`, string(res.Output))

	_, err = e.Invoke(context.Background(), "escalate_to_human", json.RawMessage(`{"reason":""}`), receptionist, &captureSink{})
	assert.True(t, IsCode(err, CodeInvalidArguments))
}

func TestBusinessHoursOpen(t *testing.T) {
	h := DefaultBusinessHours()
	assert.True(t, h.Open("2025-03-04", "09:00"))
	assert.True(t, h.Open("2025-03-04", "17:00"))
	assert.False(t, h.Open("2025-03-04", "17:30"))
	assert.False(t, h.Open("2025-03-04", "08:00"))
	assert.False(t, h.Open("2025-03-09", "12:00"))
	assert.False(t, h.Open("bad", "12:00"))
}
