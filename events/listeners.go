package events

// listenerRegistry keeps callbacks in registration order. It is not safe
// for concurrent use; the engine guards it with its own mutex.
type listenerRegistry struct {
	nextID  uint64
	entries []listenerEntry
}

type listenerEntry struct {
	id uint64
	fn func()
}

func (r *listenerRegistry) add(fn func()) uint64 {
	r.nextID++
	r.entries = append(r.entries, listenerEntry{id: r.nextID, fn: fn})
	return r.nextID
}

// remove reports whether a listener with id was registered
func (r *listenerRegistry) remove(id uint64) bool {
	for i, entry := range r.entries {
		if entry.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *listenerRegistry) len() int {
	return len(r.entries)
}

func (r *listenerRegistry) clear() {
	r.entries = nil
}

// snapshot returns the callbacks so they can be invoked without holding a lock
func (r *listenerRegistry) snapshot() []func() {
	fns := make([]func(), len(r.entries))
	for i, entry := range r.entries {
		fns[i] = entry.fn
	}
	return fns
}
