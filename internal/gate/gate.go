// Package gate decides whether the acting user may mutate posts.
package gate

import (
	"sync"

	"postdesk/internal/domain"
)

type State int

const (
	Unknown State = iota
	Allowed
	Denied
)

func (s State) String() string {
	switch s {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Gate is a three-state authorization answer. The zero value is Unknown.
type Gate struct {
	mu    sync.Mutex
	state State
}

// Resolve settles an Unknown gate from the profile. It has no effect once the
// gate is settled; call Reset before resolving a new profile.
func (g *Gate) Resolve(p domain.ActorProfile) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Unknown {
		return g.state
	}
	if p.IsTeamLeader {
		g.state = Allowed
	} else {
		g.state = Denied
	}
	return g.state
}

func (g *Gate) Reset() {
	g.mu.Lock()
	g.state = Unknown
	g.mu.Unlock()
}

// Revoke denies the gate until the next Reset, e.g. after the session expired.
func (g *Gate) Revoke() {
	g.mu.Lock()
	g.state = Denied
	g.mu.Unlock()
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Allowed is true only for a resolved, leader profile.
func (g *Gate) Allowed() bool {
	return g.State() == Allowed
}
