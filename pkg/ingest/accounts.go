package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
)

// AccountResolver maps (user, provider) pairs to persisted accounts,
// creating an account on first sight. The store's unique constraint on
// (user_id, institution) is the authoritative guard; the per-key lock here
// serializes concurrent first-sight resolution so only one insert attempt
// happens per pair, and the cache keeps repeated resolution off the store.
type AccountResolver struct {
	store api.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache map[string]*api.Account
}

// NewAccountResolver creates a resolver backed by the given store.
func NewAccountResolver(store api.Store) *AccountResolver {
	return &AccountResolver{
		store: store,
		locks: make(map[string]*sync.Mutex),
		cache: make(map[string]*api.Account),
	}
}

// Resolve returns the account for (user, provider), creating it when
// absent. Repeated calls for the same pair return the same account.
func (r *AccountResolver) Resolve(ctx context.Context, userID, provider string) (*api.Account, error) {
	key := userID + "\x00" + provider

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	account, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return account, nil
	}

	account, err := r.store.GetOrCreateAccount(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("resolving account for provider %s: %w", provider, err)
	}

	r.mu.Lock()
	r.cache[key] = account
	r.mu.Unlock()

	return account, nil
}

func (r *AccountResolver) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}
