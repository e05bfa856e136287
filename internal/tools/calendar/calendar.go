// Package calendar books appointments as Google Calendar events.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/soyeahso/switchboard/internal/tools"
)

type Config struct {
	CredentialsFile string
	TokenFile       string
	CalendarID      string
	TimeZone        string
	SlotDuration    time.Duration
}

// OAuthConfig reads the OAuth client credentials file.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return cfg, nil
}

// AuthURL is the consent page the operator visits to authorize bookings.
func AuthURL(cfg *oauth2.Config) string {
	return cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and saves it.
func Exchange(ctx context.Context, cfg *oauth2.Config, code, tokenFile string) error {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}
	return SaveToken(tokenFile, tok)
}

func TokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return tok, nil
}

func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("caching oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// Booker implements tools.Booker on a Google calendar.
type Booker struct {
	svc        *gcal.Service
	calendarID string
	loc        *time.Location
	slot       time.Duration
}

// New builds a Booker from saved OAuth credentials.
func New(ctx context.Context, cfg Config) (*Booker, error) {
	oc, err := OAuthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := TokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("no calendar token at %s, run 'switchboard calendar auth' first: %w", cfg.TokenFile, err)
	}
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(oc.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return NewWithService(svc, cfg)
}

// NewWithService wraps an existing calendar service.
func NewWithService(svc *gcal.Service, cfg Config) (*Booker, error) {
	loc := time.UTC
	if cfg.TimeZone != "" {
		l, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("loading time zone: %w", err)
		}
		loc = l
	}
	id := cfg.CalendarID
	if id == "" {
		id = "primary"
	}
	slot := cfg.SlotDuration
	if slot <= 0 {
		slot = time.Hour
	}
	return &Booker{svc: svc, calendarID: id, loc: loc, slot: slot}, nil
}

// Book implements tools.Booker. It refuses times overlapping existing events.
func (b *Booker) Book(ctx context.Context, bk tools.Booking) (tools.Booking, error) {
	start, err := time.ParseInLocation(tools.DateLayout+" "+tools.TimeLayout, bk.Date+" "+bk.Time, b.loc)
	if err != nil {
		return tools.Booking{}, fmt.Errorf("invalid date or time: %w", err)
	}
	end := start.Add(b.slot)

	existing, err := b.svc.Events.List(b.calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		Context(ctx).
		Do()
	if err != nil {
		return tools.Booking{}, classify(err)
	}
	if len(existing.Items) > 0 {
		return tools.Booking{}, tools.ErrSlotTaken
	}

	bk.Confirmation = tools.NewConfirmation()
	summary := "Appointment"
	if bk.Name != "" {
		summary += ": " + bk.Name
	}
	ev := &gcal.Event{
		Summary:     summary,
		Description: fmt.Sprintf("Confirmation %s\nService: %s", bk.Confirmation, bk.Service),
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: b.loc.String()},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: b.loc.String()},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{"confirmation": bk.Confirmation},
		},
	}
	if _, err := b.svc.Events.Insert(b.calendarID, ev).Context(ctx).Do(); err != nil {
		return tools.Booking{}, classify(err)
	}
	return bk, nil
}

// Booked implements tools.Booker.
func (b *Booker) Booked(ctx context.Context, date string) ([]string, error) {
	day, err := time.ParseInLocation(tools.DateLayout, date, b.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %w", err)
	}
	res, err := b.svc.Events.List(b.calendarID).
		TimeMin(day.Format(time.RFC3339)).
		TimeMax(day.AddDate(0, 0, 1).Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err)
	}
	var out []string
	for _, it := range res.Items {
		if it.Start == nil || it.Start.DateTime == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, it.Start.DateTime)
		if err != nil {
			continue
		}
		out = append(out, t.In(b.loc).Format(tools.TimeLayout))
	}
	sort.Strings(out)
	return out, nil
}

// classify marks rate limiting and server errors as retryable.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500) {
		return tools.Transient(err)
	}
	return err
}

var _ tools.Booker = (*Booker)(nil)
