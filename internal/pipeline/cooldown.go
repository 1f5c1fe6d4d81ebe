package pipeline

import (
	"sync"
	"time"
)

// AlertCooldownGate spaces out dispatched alerts.
// The gate is global: one accepted alert throttles every label and model.
type AlertCooldownGate struct {
	cooldown time.Duration
	last     time.Time
	accepted bool
	mu       sync.Mutex
}

// NewAlertCooldownGate creates a gate with the given minimum spacing
func NewAlertCooldownGate(cooldown time.Duration) *AlertCooldownGate {
	return &AlertCooldownGate{cooldown: cooldown}
}

// TryAccept accepts when more than the cooldown has passed since the last
// accepted alert, and records now as the new reference.
func (g *AlertCooldownGate) TryAccept(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accepted && now.Sub(g.last) <= g.cooldown {
		return false
	}
	g.last = now
	g.accepted = true
	return true
}

// LastAccepted returns the time of the last accepted alert
func (g *AlertCooldownGate) LastAccepted() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.accepted
}

// Reset forgets the last accepted alert
func (g *AlertCooldownGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = time.Time{}
	g.accepted = false
}
