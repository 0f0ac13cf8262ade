package service

import "sync"

// inflightGuard tracks verification attempts currently in progress so a
// user cannot start a second flow for the same guild while one is
// pending. Attempts for different users never contend.
type inflightGuard struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{m: make(map[string]struct{})}
}

func (g *inflightGuard) begin(guildID, userID string) bool {
	key := guildID + "/" + userID
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.m[key]; busy {
		return false
	}
	g.m[key] = struct{}{}
	return true
}

func (g *inflightGuard) end(guildID, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.m, guildID+"/"+userID)
}
