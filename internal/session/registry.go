package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

const shardCount = 32

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// Registry holds at most one Session per chat id. Keys are spread over
// shards so unrelated correspondents rarely contend; every operation on a
// key runs under its shard lock.
type Registry struct {
	shards [shardCount]shard
	ttl    time.Duration
	now    func() time.Time

	hookMu   sync.RWMutex
	onExpire func(*Session)
}

// NewRegistry creates a registry. Sessions idle for longer than ttl are
// evicted by the janitor; ttl <= 0 disables eviction.
func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]*Session)
	}
	return r
}

func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onExpire = hook
}

func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) shardFor(chatID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return &r.shards[h.Sum32()%shardCount]
}

func (r *Registry) Get(chatID string) (*Session, bool) {
	sh := r.shardFor(chatID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[chatID]
	if !ok {
		return nil, false
	}
	return clone(s), true
}

// CreateOrReset replaces any existing record with a fresh menu session.
func (r *Registry) CreateOrReset(chatID string) *Session {
	now := r.now()
	s := &Session{
		ChatID:         chatID,
		Stage:          StageMenu,
		StartedAt:      now,
		LastActivityAt: now,
	}
	sh := r.shardFor(chatID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sessions[chatID] = s
	return clone(s)
}

// Mutate runs fn against the current record (nil when absent) and stores
// what it returns. Returning nil destroys the record. fn must not call
// back into the registry.
func (r *Registry) Mutate(chatID string, fn func(cur *Session) *Session) *Session {
	sh := r.shardFor(chatID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var cur *Session
	if s, ok := sh.sessions[chatID]; ok {
		cur = clone(s)
	}
	next := fn(cur)
	if next == nil {
		delete(sh.sessions, chatID)
		return nil
	}

	stored := clone(next)
	stored.ChatID = chatID
	stored.LastActivityAt = r.now()
	if stored.StartedAt.IsZero() {
		stored.StartedAt = stored.LastActivityAt
	}
	sh.sessions[chatID] = stored
	return clone(stored)
}

// Destroy removes the record and reports whether one existed.
func (r *Registry) Destroy(chatID string) bool {
	sh := r.shardFor(chatID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[chatID]; !ok {
		return false
	}
	delete(sh.sessions, chatID)
	return true
}

func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

func (r *Registry) CountByStage() map[Stage]int {
	out := make(map[Stage]int, len(Stages))
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for _, s := range sh.sessions {
			out[s.Stage]++
		}
		sh.mu.Unlock()
	}
	return out
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) expireInactive() {
	if r.ttl <= 0 {
		return
	}
	now := r.now()
	var expired []*Session
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if now.Sub(s.LastActivityAt) < r.ttl {
				continue
			}
			delete(sh.sessions, id)
			expired = append(expired, clone(s))
		}
		sh.mu.Unlock()
	}

	r.hookMu.RLock()
	hook := r.onExpire
	r.hookMu.RUnlock()
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	if s.SelectedJob != nil {
		job := *s.SelectedJob
		c.SelectedJob = &job
	}
	return &c
}
