package services

import (
	"strings"
	"sync"
)

// StationRegistry holds the in-memory state of every register served by this process. Each
// station has its own lock; checkout and shift operations for one station run one at a time,
// which is what keeps drawer read-modify-write cycles from interleaving.
type StationRegistry struct {
	mu         sync.Mutex
	stations   map[string]*stationState
	newSession func(stationID string) *CheckoutSession
}

type stationState struct {
	mu      sync.Mutex
	session *CheckoutSession
}

// NewStationRegistry builds a registry that creates sessions with factory on first use.
func NewStationRegistry(factory func(stationID string) *CheckoutSession) *StationRegistry {
	if factory == nil {
		factory = func(stationID string) *CheckoutSession {
			return NewCheckoutSession(CheckoutSessionDeps{StationID: stationID})
		}
	}
	return &StationRegistry{
		stations:   make(map[string]*stationState),
		newSession: factory,
	}
}

func (r *StationRegistry) station(stationID string) *stationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stations[stationID]
	if !ok {
		st = &stationState{session: r.newSession(stationID)}
		r.stations[stationID] = st
	}
	return st
}

// withStation runs fn while holding the station lock.
func (r *StationRegistry) withStation(stationID string, fn func(session *CheckoutSession) error) error {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return validationError("stationId", "is required")
	}
	st := r.station(stationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(st.session)
}
