package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// AuthGate collapses concurrent authentication attempts into one and caches
// the successful identity. Failed attempts are not cached.
type AuthGate struct {
	group singleflight.Group

	mu       sync.Mutex
	identity *Identity
}

// Do runs login unless an identity is already cached. Concurrent callers wait on
// the same in-flight login.
func (g *AuthGate) Do(ctx context.Context, login func(ctx context.Context) (Identity, error)) (Identity, error) {
	if id, ok := g.Current(); ok {
		return id, nil
	}
	v, err, _ := g.group.Do("auth", func() (any, error) {
		if id, ok := g.Current(); ok {
			return id, nil
		}
		id, err := login(ctx)
		if err != nil {
			return Identity{}, err
		}
		g.mu.Lock()
		g.identity = &id
		g.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return Identity{}, err
	}
	return v.(Identity), nil
}

// Current returns the cached identity.
func (g *AuthGate) Current() (Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.identity == nil {
		return Identity{}, false
	}
	return *g.identity, true
}

// Reset forgets the cached identity.
func (g *AuthGate) Reset() {
	g.mu.Lock()
	g.identity = nil
	g.mu.Unlock()
}

// AnonymousIdentity returns a fresh anonymous principal.
func AnonymousIdentity() Identity {
	return Identity{UID: "anon-" + uuid.NewString(), Anonymous: true}
}
