package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scopes required by the builtin tools.
const (
	ScopeBookingsRead   = "bookings:read"
	ScopeBookingsWrite  = "bookings:write"
	ScopeCustomersRead  = "customers:read"
	DateLayout          = "2006-01-02"
	TimeLayout          = "15:04"
	defaultSlotDuration = time.Hour
)

// EscalateTool is the builtin that hands the conversation to a person.
const EscalateTool = "escalate_to_human"

// ErrSlotTaken is returned by a Booker when the requested time is booked.
var ErrSlotTaken = errors.New("slot already booked")

// ErrNoBooking is returned by a Canceller for an unknown confirmation.
var ErrNoBooking = errors.New("no booking with that confirmation number")

// Booking is a confirmed appointment.
type Booking struct {
	Confirmation string `json:"confirmation"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Name         string `json:"name,omitempty"`
	Service      string `json:"service,omitempty"`
}

// Booker stores appointments. Implementations mark retryable failures
// with Transient.
type Booker interface {
	Book(ctx context.Context, b Booking) (Booking, error)
	Booked(ctx context.Context, date string) ([]string, error)
}

// Canceller is implemented by bookers that can release a booking.
type Canceller interface {
	Cancel(ctx context.Context, confirmation string) (Booking, error)
}

// MemoryBooker keeps bookings in process.
type MemoryBooker struct {
	mu       sync.Mutex
	bookings map[string]Booking // date + " " + time
}

func NewMemoryBooker() *MemoryBooker {
	return &MemoryBooker{bookings: make(map[string]Booking)}
}

func (m *MemoryBooker) Book(_ context.Context, b Booking) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := b.Date + " " + b.Time
	if _, taken := m.bookings[key]; taken {
		return Booking{}, ErrSlotTaken
	}
	b.Confirmation = NewConfirmation()
	m.bookings[key] = b
	return b, nil
}

func (m *MemoryBooker) Cancel(_ context.Context, confirmation string) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.bookings {
		if strings.EqualFold(b.Confirmation, confirmation) {
			delete(m.bookings, key)
			return b, nil
		}
	}
	return Booking{}, ErrNoBooking
}

func (m *MemoryBooker) Booked(_ context.Context, date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, b := range m.bookings {
		if b.Date == date {
			out = append(out, b.Time)
		}
	}
	return out, nil
}

// NewConfirmation returns a short appointment confirmation code.
func NewConfirmation() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "APT-" + id[:6]
}

// BusinessHours maps weekday names to "HH:MM-HH:MM" or "closed".
type BusinessHours map[string]string

// DefaultBusinessHours are used when none are configured.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		"Monday":    "09:00-18:00",
		"Tuesday":   "09:00-18:00",
		"Wednesday": "09:00-18:00",
		"Thursday":  "09:00-18:00",
		"Friday":    "09:00-17:00",
		"Saturday":  "10:00-14:00",
		"Sunday":    "closed",
	}
}

// Window returns the opening window of a day, ok false when closed.
func (h BusinessHours) Window(day time.Weekday) (from, to time.Duration, ok bool) {
	spec, found := h[day.String()]
	if !found || strings.EqualFold(spec, "closed") {
		return 0, 0, false
	}
	start, end, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	o, err1 := clock(start)
	c, err2 := clock(end)
	if err1 != nil || err2 != nil || c <= o {
		return 0, 0, false
	}
	return o, c, true
}

// Open reports whether an appointment starting at date and hhmm fits the hours.
func (h BusinessHours) Open(date, hhmm string) bool {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	t, err := clock(hhmm)
	if err != nil {
		return false
	}
	o, c, ok := h.Window(d.Weekday())
	return ok && t >= o && t+defaultSlotDuration <= c
}

func clock(s string) (time.Duration, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Customer is a directory entry.
type Customer struct {
	ID            string `json:"customer_id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	AccountStatus string `json:"account_status"`
}

// Directory finds customers by phone or email.
type Directory interface {
	Lookup(ctx context.Context, phone, email string) (*Customer, error)
}

// StaticDirectory is a fixed customer list.
type StaticDirectory []Customer

func (d StaticDirectory) Lookup(_ context.Context, phone, email string) (*Customer, error) {
	for i := range d {
		if (phone != "" && d[i].Phone == phone) || (email != "" && strings.EqualFold(d[i].Email, email)) {
			c := d[i]
			return &c, nil
		}
	}
	return nil, nil
}

type createBookingArgs struct {
	Date    string `json:"date" jsonschema:"description=Appointment date (YYYY-MM-DD),pattern=^\\d{4}-\\d{2}-\\d{2}$"`
	Time    string `json:"time" jsonschema:"description=Appointment time (HH:MM),pattern=^\\d{2}:\\d{2}$"`
	Name    string `json:"name,omitempty" jsonschema:"description=Customer name"`
	Service string `json:"service,omitempty" jsonschema:"description=Type of service"`
}

type cancelArgs struct {
	Confirmation string `json:"confirmation_number" jsonschema:"description=Appointment confirmation number,minLength=1"`
	Reason       string `json:"reason,omitempty" jsonschema:"description=Reason for cancellation"`
}

type availabilityArgs struct {
	Date    string `json:"date" jsonschema:"description=Date to check (YYYY-MM-DD),pattern=^\\d{4}-\\d{2}-\\d{2}$"`
	Service string `json:"service_type,omitempty" jsonschema:"description=Type of service"`
}

type hoursArgs struct {
	Day string `json:"day,omitempty" jsonschema:"description=Day of the week"`
}

type lookupArgs struct {
	Phone string `json:"phone,omitempty" jsonschema:"description=Customer phone number"`
	Email string `json:"email,omitempty" jsonschema:"description=Customer email address"`
}

type escalateArgs struct {
	Reason string `json:"reason" jsonschema:"description=Why a human is needed,minLength=1"`
}

// Builtins returns the standard tool set over the given backends.
// create_booking only enforces hours when they are configured; with nil
// hours the defaults are reported but any slot may be booked.
func Builtins(booker Booker, hours BusinessHours, dir Directory) []Definition {
	enforce := hours != nil
	if hours == nil {
		hours = DefaultBusinessHours()
	}
	return []Definition{
		{
			Name:        "create_booking",
			Description: "Book an appointment at a date and time.",
			Parameters:  SchemaFor(&createBookingArgs{}),
			Scope:       ScopeBookingsWrite,
			Handler: Typed(func(ctx context.Context, a createBookingArgs) (any, error) {
				if enforce && !hours.Open(a.Date, a.Time) {
					return nil, fmt.Errorf("%s %s is outside business hours", a.Date, a.Time)
				}
				return booker.Book(ctx, Booking{Date: a.Date, Time: a.Time, Name: a.Name, Service: a.Service})
			}),
		},
		{
			Name:        "cancel_appointment",
			Description: "Cancel an existing appointment by confirmation number.",
			Parameters:  SchemaFor(&cancelArgs{}),
			Scope:       ScopeBookingsWrite,
			Handler: Typed(func(ctx context.Context, a cancelArgs) (any, error) {
				c, ok := booker.(Canceller)
				if !ok {
					return nil, errors.New("cancellation is not supported by this calendar")
				}
				b, err := c.Cancel(ctx, a.Confirmation)
				if err != nil {
					return nil, err
				}
				return map[string]any{"confirmation": b.Confirmation, "date": b.Date, "time": b.Time, "status": "cancelled"}, nil
			}),
		},
		{
			Name:        "check_availability",
			Description: "List free appointment slots on a date.",
			Parameters:  SchemaFor(&availabilityArgs{}),
			Scope:       ScopeBookingsRead,
			Handler: Typed(func(ctx context.Context, a availabilityArgs) (any, error) {
				d, err := time.Parse(DateLayout, a.Date)
				if err != nil {
					return nil, fmt.Errorf("invalid date %q", a.Date)
				}
				booked, err := booker.Booked(ctx, a.Date)
				if err != nil {
					return nil, err
				}
				free := []string{}
				if o, c, ok := hours.Window(d.Weekday()); ok {
					for t := o; t+defaultSlotDuration <= c; t += defaultSlotDuration {
						slot := fmt.Sprintf("%02d:%02d", int(t.Hours()), int(t.Minutes())%60)
						if !slices.Contains(booked, slot) {
							free = append(free, slot)
						}
					}
				}
				return map[string]any{"date": a.Date, "available_slots": free}, nil
			}),
		},
		{
			Name:        "check_business_hours",
			Description: "Get the business operating hours.",
			Parameters:  SchemaFor(&hoursArgs{}),
			Handler: Typed(func(_ context.Context, a hoursArgs) (any, error) {
				if a.Day != "" {
					day := strings.ToUpper(a.Day[:1]) + strings.ToLower(a.Day[1:])
					if h, ok := hours[day]; ok {
						return map[string]any{"day": day, "hours": h}, nil
					}
				}
				return map[string]any{"hours": map[string]string(hours)}, nil
			}),
		},
		{
			Name:        "lookup_customer",
			Description: "Look up a customer by phone number or email.",
			Parameters:  SchemaFor(&lookupArgs{}),
			Scope:       ScopeCustomersRead,
			Redact:      []string{"phone", "email"},
			Handler: Typed(func(ctx context.Context, a lookupArgs) (any, error) {
				if a.Phone == "" && a.Email == "" {
					return nil, errors.New("provide a phone number or email address")
				}
				c, err := dir.Lookup(ctx, a.Phone, a.Email)
				if err != nil {
					return nil, err
				}
				if c == nil {
					return map[string]any{"found": false}, nil
				}
				return map[string]any{"found": true, "customer": c}, nil
			}),
		},
		{
			Name:        EscalateTool,
			Description: "Transfer the conversation to a human agent.",
			Parameters:  SchemaFor(&escalateArgs{}),
			Handler: Typed(func(_ context.Context, a escalateArgs) (any, error) {
				return map[string]any{"escalated": true, "reason": a.Reason}, nil
			}),
		},
	}
}

