package service

import (
	"strings"
	"time"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

var slotLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

// SlotClock maps instants onto the weekly availability grid of the marketplace time zone.
type SlotClock struct {
	Location *time.Location
	// Window is how far either side of an instant a booked demo session still occupies the slot.
	Window time.Duration
}

// NewSlotClock falls back to UTC and a 30 minute window.
func NewSlotClock(loc *time.Location, window time.Duration) SlotClock {
	if loc == nil {
		loc = time.UTC
	}
	if window <= 0 {
		window = 30 * time.Minute
	}
	return SlotClock{Location: loc, Window: window}
}

// Parse reads an RFC3339 instant or a wall-clock date time in the marketplace zone.
func (c SlotClock) Parse(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range slotLayouts {
		if t, err := time.ParseInLocation(layout, raw, c.location()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Slot returns the lowercase weekday and HH:MM of t in the marketplace zone.
func (c SlotClock) Slot(t time.Time) (string, string) {
	local := t.In(c.location())
	return strings.ToLower(local.Weekday().String()), local.Format("15:04")
}

// Query builds the availability lookup for one instant.
func (c SlotClock) Query(t time.Time) models.AvailabilityQuery {
	day, clock := c.Slot(t)
	at := t.UTC()
	return models.AvailabilityQuery{
		At:          &at,
		DayOfWeek:   day,
		Clock:       clock,
		WindowStart: at.Add(-c.Window),
		WindowEnd:   at.Add(c.Window),
	}
}

func (c SlotClock) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
