package calendarsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/classhour/backend/core"
)

// DummyService is an in-memory calendar for dev and tests.
type DummyService struct {
	mu     sync.Mutex
	seq    int
	events map[string]core.CalendarEvent
	rsvps  map[string]map[string]core.RSVPStatus // eventID -> email -> status

	// FailNext makes the next API call fail with a transient provider error.
	FailNext bool
}

var _ core.CalendarService = (*DummyService)(nil)

func NewDummyService() *DummyService {
	return &DummyService{
		events: make(map[string]core.CalendarEvent),
		rsvps:  make(map[string]map[string]core.RSVPStatus),
	}
}

func (svc *DummyService) Exchange(ctx context.Context, code string) (core.OAuthToken, error) {
	return core.OAuthToken{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (svc *DummyService) Refresh(ctx context.Context, tok core.OAuthToken) (core.OAuthToken, error) {
	tok.AccessToken = "refreshed-" + tok.AccessToken
	tok.Expiry = time.Now().Add(time.Hour)
	return tok, nil
}

func (svc *DummyService) CreateEvent(ctx context.Context, tok core.OAuthToken, ev core.CalendarEvent) (string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if err := svc.failure("creating event"); err != nil {
		return "", err
	}
	svc.seq++
	ev.ID = fmt.Sprintf("evt_dummy%04d", svc.seq)
	svc.events[ev.ID] = ev
	return ev.ID, nil
}

func (svc *DummyService) GetEvent(ctx context.Context, tok core.OAuthToken, eventID string) (core.CalendarEvent, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ev, ok := svc.events[eventID]
	if !ok {
		return core.CalendarEvent{}, core.NewNotFoundError("event not found")
	}
	return ev, nil
}

func (svc *DummyService) PatchEvent(ctx context.Context, tok core.OAuthToken, ev core.CalendarEvent) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if err := svc.failure("patching event"); err != nil {
		return err
	}
	cur, ok := svc.events[ev.ID]
	if !ok {
		return core.NewNotFoundError("event not found")
	}
	if !ev.Start.IsZero() {
		cur.Start = ev.Start
	}
	if !ev.End.IsZero() {
		cur.End = ev.End
	}
	if ev.Summary != "" {
		cur.Summary = ev.Summary
	}
	svc.events[ev.ID] = cur
	return nil
}

func (svc *DummyService) UpdateRSVP(ctx context.Context, tok core.OAuthToken, eventID, attendeeEmail string, status core.RSVPStatus) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if _, ok := svc.events[eventID]; !ok {
		return core.NewNotFoundError("event not found")
	}
	if svc.rsvps[eventID] == nil {
		svc.rsvps[eventID] = make(map[string]core.RSVPStatus)
	}
	svc.rsvps[eventID][attendeeEmail] = status
	return nil
}

// RSVPFor reports the recorded answer, for test assertions.
func (svc *DummyService) RSVPFor(eventID, email string) (core.RSVPStatus, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	st, ok := svc.rsvps[eventID][email]
	return st, ok
}

// Event returns a stored event, for test assertions.
func (svc *DummyService) Event(eventID string) (core.CalendarEvent, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ev, ok := svc.events[eventID]
	return ev, ok
}

func (svc *DummyService) failure(op string) error {
	if svc.FailNext {
		svc.FailNext = false
		return core.NewProviderError(op, true, fmt.Errorf("primed failure"))
	}
	return nil
}
