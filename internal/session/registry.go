package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voicecoach/internal/persona"
)

// Registry maps connection ids to their live sessions. The table lock only
// guards membership; each Session carries its own lock.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	defaultVoice persona.Voice
	onRemove     func(*Session)
}

func NewRegistry(defaultVoice persona.Voice) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		defaultVoice: defaultVoice,
	}
}

func (r *Registry) SetRemoveHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = hook
}

// Create registers a new session whose events are written to outbound.
func (r *Registry) Create(outbound chan<- any) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		outbound:  outbound,
		state:     StateIdle,
		voice:     r.defaultVoice,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops the session from the table. It reports false if the id was
// already gone.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	hook := r.onRemove
	r.mu.Unlock()

	if ok && hook != nil {
		hook(s)
	}
	return ok
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
