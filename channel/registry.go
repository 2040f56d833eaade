package channel

import (
	"fmt"

	"github.com/leadpulse/sequence-engine/models"
)

// Registry holds one adapter per channel type. It is assembled once at
// startup and read-only afterwards, so no locking is needed.
type Registry struct {
	adapters map[models.ChannelType]Adapter
}

// NewRegistry builds a registry from the given adapters. Registering two
// adapters for the same channel is a wiring bug and fails fast.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[models.ChannelType]Adapter, len(adapters))}
	for _, a := range adapters {
		ct := a.Channel()
		if !ct.Valid() {
			return nil, fmt.Errorf("adapter registered for unknown channel %q", ct)
		}
		if _, dup := r.adapters[ct]; dup {
			return nil, fmt.Errorf("duplicate adapter for channel %q", ct)
		}
		r.adapters[ct] = a
	}
	return r, nil
}

// Get returns the adapter for the channel or an error when none is wired.
// A step referencing an unregistered channel is a configuration problem,
// not a lead problem, so the error is permanent.
func (r *Registry) Get(ct models.ChannelType) (Adapter, error) {
	a, ok := r.adapters[ct]
	if !ok {
		return nil, Permanent(fmt.Errorf("no adapter registered for channel %q", ct))
	}
	return a, nil
}

// Channels lists the channel types with a registered adapter
func (r *Registry) Channels() []models.ChannelType {
	out := make([]models.ChannelType, 0, len(r.adapters))
	for ct := range r.adapters {
		out = append(out, ct)
	}
	return out
}
