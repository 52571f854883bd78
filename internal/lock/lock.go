package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrBusy means a key stayed locked for every retry.
var ErrBusy = errors.New("system busy, please try again")

// Locker serializes work on a set of keys. Unlock releases every key taken.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// StockKey is the lock key guarding one product's balance.
func StockKey(productID string) string {
	return "stock:" + productID
}

// StockKeys maps product ids to lock keys.
func StockKeys(productIDs []string) []string {
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, StockKey(id))
	}
	return keys
}

// ReservationKey guards the active reservation of one (tab, product) pair.
func ReservationKey(tabID string, productID string) string {
	return "reservation:" + tabID + ":" + productID
}

// normalizeKeys dedupes and sorts keys so every caller acquires in the same order.
func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

type localEntry struct {
	mu   sync.Mutex
	refs int
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			l.release(held)
			return nil, err
		}
		entry := l.acquireEntry(key)
		entry.mu.Lock()
		held = append(held, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(held) })
	}, nil
}

func (l *LocalLocker) acquireEntry(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		entry := l.entries[keys[i]]
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, keys[i])
		}
		l.mu.Unlock()
		entry.mu.Unlock()
	}
}
