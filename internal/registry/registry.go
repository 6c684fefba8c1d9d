package registry

import (
	"sync"
	"time"

	"amzym.dev/livetrack/internal/track"
)

// Participant is one currently-connected entity and its last reported
// position. The live set holds no history; position is overwritten whole
// on every update.
type Participant struct {
	ID           string               `json:"id"`
	Role         string               `json:"role,omitempty"`
	LastLocation *track.LocationEvent `json:"lastLocation,omitempty"`
	UpdatedAt    time.Time            `json:"-"`
}

// Registry is the process-local connection id -> Participant map. All
// mutation is serialized through its methods; no persistence, no
// cross-process sharing. Horizontally scaled instances each hold an
// independent view.
type Registry struct {
	mu   sync.Mutex
	list map[string]*Participant
}

func New() *Registry {
	r := &Registry{}
	r.list = make(map[string]*Participant)
	return r
}

func (r *Registry) Register(id string, role string) Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &Participant{ID: id, Role: role}
	r.list[id] = p
	return *p
}

// UpdatePosition overwrites the participant's position and bumps its
// timestamp. The second return is false when the id was never registered
// or already removed; callers treat that as a no-op.
func (r *Registry) UpdatePosition(id string, ev track.LocationEvent) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.list[id]
	if !ok {
		return Participant{}, false
	}
	p.LastLocation = &ev
	p.UpdatedAt = time.Now().UTC()
	return *p, true
}

// Remove is idempotent; removing an unknown id is not an error.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.list, id)
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

// List returns a point-in-time copy of the live set. Each entry's
// coordinate pair was submitted together: positions are stored as fresh
// values replaced whole under the lock, never mutated in place.
func (r *Registry) List() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]Participant, 0, len(r.list))
	for _, p := range r.list {
		snapshot = append(snapshot, *p)
	}
	return snapshot
}
