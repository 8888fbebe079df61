package events

import "sync"

// Store maps event uids to the most recently parsed Event
type Store struct {
	mu     sync.RWMutex
	events map[string]Event
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{events: make(map[string]Event)}
}

// Get returns the event stored under uid. The boolean is false when no
// notification for uid has been seen.
func (s *Store) Get(uid string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[uid]
	return event, ok
}

// PutAll stores a batch of events in order, later entries overwriting
// earlier ones with the same uid. Readers see either none or all of the batch.
func (s *Store) PutAll(batch []Event) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range batch {
		s.events[event.UID] = event
	}
}

// ByPlatform returns a snapshot of the events of a platform, in no particular order
func (s *Store) ByPlatform(platform string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Event, 0)
	for _, event := range s.events {
		if event.Platform == platform {
			result = append(result, event)
		}
	}
	return result
}

// UIDsByPlatform returns the set of uids stored for a platform
func (s *Store) UIDsByPlatform(platform string) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uids := make(map[string]struct{})
	for uid, event := range s.events {
		if event.Platform == platform {
			uids[uid] = struct{}{}
		}
	}
	return uids
}

// All returns a snapshot of every stored event
func (s *Store) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Event, 0, len(s.events))
	for _, event := range s.events {
		result = append(result, event)
	}
	return result
}

// Len returns the number of stored events
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
