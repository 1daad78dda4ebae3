package core

import (
	"sync"
	"time"

	"nrgchamp/hvac-controller/internal/config"
)

// Payload is the FSM's runtime state: a reference to immutable
// configuration, the current Conditions snapshot, and the defrost timing
// bookkeeping described in spec §3. It is owned by the FSM task; the
// Controller only ever pushes a new Conditions value into it.
type Payload struct {
	mu             sync.RWMutex
	Config         *config.Configuration
	conditions     Conditions
	lastDefrost    *time.Time
	defrostStarted *time.Time
}

// NewPayload creates a Payload for the given configuration.
func NewPayload(cfg *config.Configuration) *Payload {
	return &Payload{Config: cfg}
}

// SetConditions installs a new Conditions snapshot, consumed by the next
// tick.
func (p *Payload) SetConditions(c Conditions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conditions = c
}

// Conditions returns the current Conditions snapshot.
func (p *Payload) Conditions() Conditions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conditions
}

// LastDefrost returns the timestamp the last defrost cycle ended, if any.
func (p *Payload) LastDefrost() *time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastDefrost
}

// DefrostStarted returns the timestamp the current defrost cycle began, if
// the FSM is in the defrost state.
func (p *Payload) DefrostStarted() *time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defrostStarted
}

// StartDefrost stamps defrost_started at entry into the defrost state.
func (p *Payload) StartDefrost(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := at
	p.defrostStarted = &t
}

// EndDefrost stamps last_defrost and clears defrost_started, at exit from
// the defrost state. last_defrost is monotonically non-decreasing per the
// invariant in spec §3.
func (p *Payload) EndDefrost(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastDefrost == nil || at.After(*p.lastDefrost) {
		t := at
		p.lastDefrost = &t
	}
	p.defrostStarted = nil
}
