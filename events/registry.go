package events

import (
	"sort"
	"sync"

	"github.com/SridarDhandapani/onvif-events"
)

// Decoder turns a raw notification into an Event. sourceID identifies the
// camera and prefixes the event uid.
type Decoder func(sourceID string, msg *onvif.NotificationMessage) (*Event, error)

// Registry maps normalized topics to decoders
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register installs d for topic, replacing any previous decoder
func (r *Registry) Register(topic string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[topic] = d
}

// Lookup returns the decoder for topic
func (r *Registry) Lookup(topic string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[topic]
	return d, ok
}

// Topics returns the registered topics, sorted
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.decoders))
	for topic := range r.decoders {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
