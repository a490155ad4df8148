package core

import (
	"context"
	"time"
)

type (
	OAuthToken struct {
		AccessToken  string
		RefreshToken string
		Expiry       time.Time
	}

	CalendarEvent struct {
		ID          string
		Summary     string
		Description string
		Start       time.Time
		End         time.Time
		Attendees   []string // emails
	}

	RSVPStatus string

	// CalendarService is the narrow contract over the external calendar API.
	// Calls that refresh an expired token return the new token for the caller
	// to persist.
	CalendarService interface {
		Exchange(ctx context.Context, code string) (OAuthToken, error)
		Refresh(ctx context.Context, tok OAuthToken) (OAuthToken, error)
		CreateEvent(ctx context.Context, tok OAuthToken, ev CalendarEvent) (eventID string, err error)
		GetEvent(ctx context.Context, tok OAuthToken, eventID string) (CalendarEvent, error)
		PatchEvent(ctx context.Context, tok OAuthToken, ev CalendarEvent) error
		UpdateRSVP(ctx context.Context, tok OAuthToken, eventID, attendeeEmail string, status RSVPStatus) error
	}
)

func (t OAuthToken) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && now.After(t.Expiry)
}

const (
	RSVPAccepted  RSVPStatus = "accepted"
	RSVPDeclined  RSVPStatus = "declined"
	RSVPTentative RSVPStatus = "tentative"
)
