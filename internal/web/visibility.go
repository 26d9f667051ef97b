package web

import "sync"

// Visibility folds the explicit UI flag and the number of connected stream
// clients into the single "someone is looking" bit the scheduler gates on.
type Visibility struct {
	mu       sync.Mutex
	explicit bool
	clients  int
	visible  bool
	sink     func(bool)
}

type VisibilityState struct {
	Visible  bool `json:"visible"`
	Explicit bool `json:"explicit"`
	Clients  int  `json:"clients"`
}

// NewVisibility calls sink once with the initial (hidden) state and then on
// every change. sink may be nil.
func NewVisibility(sink func(bool)) *Visibility {
	v := &Visibility{sink: sink}
	if sink != nil {
		sink(false)
	}
	return v
}

func (v *Visibility) SetExplicit(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.explicit = on
	v.updateLocked()
}

func (v *Visibility) SetClients(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clients = max(n, 0)
	v.updateLocked()
}

func (v *Visibility) updateLocked() {
	next := v.explicit || v.clients > 0
	if next == v.visible {
		return
	}
	v.visible = next
	if v.sink != nil {
		v.sink(next)
	}
}

func (v *Visibility) State() VisibilityState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VisibilityState{Visible: v.visible, Explicit: v.explicit, Clients: v.clients}
}
