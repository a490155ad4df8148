package calendarsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/classhour/backend/core"
)

const (
	calendarScope = "https://www.googleapis.com/auth/calendar.events"
	eventsURL     = "https://www.googleapis.com/calendar/v3/calendars/primary/events"
)

type googleService struct {
	oauth  *oauth2.Config
	client *http.Client
	logger core.Logger
}

var _ core.CalendarService = (*googleService)(nil)

func NewGoogleService(conf *core.Config, logger core.Logger) *googleService {
	return &googleService{
		oauth: &oauth2.Config{
			ClientID:     conf.GoogleClientID,
			ClientSecret: conf.GoogleClientSecret,
			RedirectURL:  conf.GoogleRedirectURL,
			Scopes:       []string{calendarScope},
			Endpoint:     google.Endpoint,
		},
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (svc *googleService) Exchange(ctx context.Context, code string) (core.OAuthToken, error) {
	tok, err := svc.oauth.Exchange(ctx, code, oauth2.AccessTypeOffline)
	if err != nil {
		return core.OAuthToken{}, core.NewProviderError("exchanging authorization code", false, err)
	}
	return fromOAuth2(tok), nil
}

func (svc *googleService) Refresh(ctx context.Context, tok core.OAuthToken) (core.OAuthToken, error) {
	src := svc.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return core.OAuthToken{}, core.NewProviderError("refreshing token", true, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	return fromOAuth2(fresh), nil
}

// wire format of the Calendar v3 events resource, narrowed to what we use
type (
	gEventTime struct {
		DateTime string `json:"dateTime,omitempty"`
	}
	gAttendee struct {
		Email          string `json:"email"`
		ResponseStatus string `json:"responseStatus,omitempty"`
	}
	gEvent struct {
		ID          string      `json:"id,omitempty"`
		Summary     string      `json:"summary,omitempty"`
		Description string      `json:"description,omitempty"`
		Start       *gEventTime `json:"start,omitempty"`
		End         *gEventTime `json:"end,omitempty"`
		Attendees   []gAttendee `json:"attendees,omitempty"`
	}
)

func (svc *googleService) CreateEvent(ctx context.Context, tok core.OAuthToken, ev core.CalendarEvent) (string, error) {
	var created gEvent
	if err := svc.do(ctx, tok, http.MethodPost, eventsURL, toGEvent(ev), &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (svc *googleService) GetEvent(ctx context.Context, tok core.OAuthToken, eventID string) (core.CalendarEvent, error) {
	var ev gEvent
	if err := svc.do(ctx, tok, http.MethodGet, eventsURL+"/"+eventID, nil, &ev); err != nil {
		return core.CalendarEvent{}, err
	}
	return fromGEvent(ev), nil
}

func (svc *googleService) PatchEvent(ctx context.Context, tok core.OAuthToken, ev core.CalendarEvent) error {
	return svc.do(ctx, tok, http.MethodPatch, eventsURL+"/"+ev.ID, toGEvent(ev), nil)
}

func (svc *googleService) UpdateRSVP(ctx context.Context, tok core.OAuthToken, eventID, attendeeEmail string, status core.RSVPStatus) error {
	// the events API replaces the whole attendee list on patch, so read first
	var ev gEvent
	if err := svc.do(ctx, tok, http.MethodGet, eventsURL+"/"+eventID, nil, &ev); err != nil {
		return err
	}
	var found bool
	for i, a := range ev.Attendees {
		if a.Email == attendeeEmail {
			ev.Attendees[i].ResponseStatus = string(status)
			found = true
			break
		}
	}
	if !found {
		return core.NewValidationError(errors.New(attendeeEmail + " is not an attendee of this event"))
	}
	patch := gEvent{Attendees: ev.Attendees}
	return svc.do(ctx, tok, http.MethodPatch, eventsURL+"/"+eventID, patch, nil)
}

func (svc *googleService) do(ctx context.Context, tok core.OAuthToken, method, url string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		rdr = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := svc.client.Do(req)
	if err != nil {
		return core.NewProviderError("calling calendar API", true, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(res.Body)
		transient := res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500
		return core.NewProviderError(
			fmt.Sprintf("calendar API %s %s", method, url),
			transient,
			errors.Errorf("status %d: %s", res.StatusCode, b),
		)
	}
	if out != nil {
		if err = json.NewDecoder(res.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decoding response")
		}
	}
	return nil
}

func toGEvent(ev core.CalendarEvent) gEvent {
	g := gEvent{
		ID:          ev.ID,
		Summary:     ev.Summary,
		Description: ev.Description,
	}
	if !ev.Start.IsZero() {
		g.Start = &gEventTime{DateTime: ev.Start.Format(time.RFC3339)}
	}
	if !ev.End.IsZero() {
		g.End = &gEventTime{DateTime: ev.End.Format(time.RFC3339)}
	}
	for _, email := range ev.Attendees {
		g.Attendees = append(g.Attendees, gAttendee{Email: email})
	}
	return g
}

func fromGEvent(g gEvent) core.CalendarEvent {
	ev := core.CalendarEvent{
		ID:          g.ID,
		Summary:     g.Summary,
		Description: g.Description,
	}
	if g.Start != nil {
		ev.Start, _ = time.Parse(time.RFC3339, g.Start.DateTime)
	}
	if g.End != nil {
		ev.End, _ = time.Parse(time.RFC3339, g.End.DateTime)
	}
	for _, a := range g.Attendees {
		ev.Attendees = append(ev.Attendees, a.Email)
	}
	return ev
}

func fromOAuth2(tok *oauth2.Token) core.OAuthToken {
	return core.OAuthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}
