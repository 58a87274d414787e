package meeting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/noah-isme/trainer-marketplace-api/pkg/config"
)

// ErrDisabled is returned by the no-op provisioner.
var ErrDisabled = errors.New("meeting provisioning disabled")

// Participant identifies an attendee of a class.
type Participant struct {
	Name  string
	Email string
}

// Request describes the session a conference link is needed for.
type Request struct {
	Trainer    Participant
	Student    Participant
	ClassTitle string
	Date       string
	Time       string
	Duration   time.Duration
}

// Meeting is a provisioned conference.
type Meeting struct {
	Link    string
	EventID string
}

// Provisioner creates video conferences for booked classes.
type Provisioner interface {
	CreateMeeting(ctx context.Context, req Request) (*Meeting, error)
}

// Noop never provisions anything.
type Noop struct{}

// CreateMeeting implements Provisioner.
func (Noop) CreateMeeting(context.Context, Request) (*Meeting, error) {
	return nil, ErrDisabled
}

// GoogleCalendar provisions Google Meet links by inserting calendar events with conference data.
type GoogleCalendar struct {
	events          *calendar.EventsService
	calendarID      string
	location        *time.Location
	defaultDuration time.Duration
}

// New returns the provisioner selected by configuration.
func New(ctx context.Context, cfg config.MeetingConfig, logger *zap.Logger) (Provisioner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("meeting provisioning disabled")
		return Noop{}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		raw, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read meeting credentials: %w", err)
		}
		if cfg.ImpersonateSubject != "" {
			jwtCfg, err := google.JWTConfigFromJSON(raw, calendar.CalendarScope)
			if err != nil {
				return nil, fmt.Errorf("parse meeting credentials: %w", err)
			}
			jwtCfg.Subject = cfg.ImpersonateSubject
			opts = append(opts, option.WithTokenSource(jwtCfg.TokenSource(ctx)))
		} else {
			opts = append(opts, option.WithCredentialsJSON(raw), option.WithScopes(calendar.CalendarScope))
		}
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}
	return NewGoogleCalendar(svc, cfg)
}

// NewGoogleCalendar wraps an existing calendar client.
func NewGoogleCalendar(svc *calendar.Service, cfg config.MeetingConfig) (*GoogleCalendar, error) {
	tz := cfg.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load meeting timezone %q: %w", tz, err)
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	duration := cfg.DefaultDuration
	if duration <= 0 {
		duration = time.Hour
	}
	return &GoogleCalendar{
		events:          calendar.NewEventsService(svc),
		calendarID:      calendarID,
		location:        loc,
		defaultDuration: duration,
	}, nil
}

// CreateMeeting inserts a calendar event and returns its Meet link.
func (g *GoogleCalendar) CreateMeeting(ctx context.Context, req Request) (*Meeting, error) {
	event, err := g.buildEvent(req)
	if err != nil {
		return nil, err
	}

	created, err := g.events.Insert(g.calendarID, event).ConferenceDataVersion(1).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert calendar event: %w", err)
	}

	link := created.HangoutLink
	if link == "" && created.ConferenceData != nil {
		for _, entry := range created.ConferenceData.EntryPoints {
			if entry.EntryPointType == "video" {
				link = entry.Uri
				break
			}
		}
	}
	if link == "" {
		return nil, fmt.Errorf("calendar event %s has no conference link", created.Id)
	}
	return &Meeting{Link: link, EventID: created.Id}, nil
}

func (g *GoogleCalendar) buildEvent(req Request) (*calendar.Event, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", req.Date+" "+req.Time, g.location)
	if err != nil {
		return nil, fmt.Errorf("parse class start: %w", err)
	}
	duration := req.Duration
	if duration <= 0 {
		duration = g.defaultDuration
	}
	end := start.Add(duration)
	tz := g.location.String()

	var attendees []*calendar.EventAttendee
	for _, p := range []Participant{req.Trainer, req.Student} {
		if p.Email != "" {
			attendees = append(attendees, &calendar.EventAttendee{Email: p.Email, DisplayName: p.Name})
		}
	}

	return &calendar.Event{
		Summary:     fmt.Sprintf("%s - %s", req.ClassTitle, req.Student.Name),
		Description: fmt.Sprintf("Training class with %s by %s", req.Student.Name, req.Trainer.Name),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
		Attendees:   attendees,
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}, nil
}
