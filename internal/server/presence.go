package server

import (
	"sync"
)

// presenceRegistry tracks which clients are live for each user. A user
// is online iff it has at least one registered connection; a user may
// hold several (multi-device). A silently dead connection lingers until
// the transport keepalive reaps it, which is an accepted limitation.
type presenceRegistry struct {
	mu    sync.RWMutex
	users map[int]map[*Client]struct{}
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{
		users: make(map[int]map[*Client]struct{}),
	}
}

func (p *presenceRegistry) register(userId int, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.users[userId] == nil {
		p.users[userId] = make(map[*Client]struct{})
	}
	p.users[userId][c] = struct{}{}
}

// unregister removes exactly the entry for c. It is a no-op if the
// connection is already absent, which covers double-disconnect races.
func (p *presenceRegistry) unregister(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.users[c.user.Id]
	if !ok {
		return
	}

	delete(conns, c)
	if len(conns) == 0 {
		delete(p.users, c.user.Id)
	}
}

func (p *presenceRegistry) isOnline(userId int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.users[userId]) > 0
}

// connectionsFor returns a snapshot of the user's live connections,
// used to resolve fanout targets.
func (p *presenceRegistry) connectionsFor(userId int) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := make([]*Client, 0, len(p.users[userId]))
	for c := range p.users[userId] {
		conns = append(conns, c)
	}
	return conns
}

func (p *presenceRegistry) numOnline() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.users)
}
