package mintd

import (
	"sync"
	"time"

	"mintbot/services/mintd/notify"
)

type edge struct {
	active bool
	since  time.Time
}

// Debouncer tracks alert edges keyed by kind and network so a condition is
// reported once when it starts and once when it clears.
type Debouncer struct {
	mu    sync.Mutex
	edges map[string]edge
}

// NewDebouncer returns an empty debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{edges: make(map[string]edge)}
}

func edgeKey(kind notify.Kind, network Network) string {
	return string(kind) + "/" + string(network)
}

// Raise marks the condition active. It returns true on the rising edge only.
func (d *Debouncer) Raise(kind notify.Kind, network Network, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := edgeKey(kind, network)
	if d.edges[key].active {
		return false
	}
	d.edges[key] = edge{active: true, since: now}
	return true
}

// Clear marks the condition inactive. It returns true on the falling edge and
// how long the condition lasted.
func (d *Debouncer) Clear(kind notify.Kind, network Network, now time.Time) (bool, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := edgeKey(kind, network)
	current := d.edges[key]
	if !current.active {
		return false, 0
	}
	d.edges[key] = edge{active: false, since: now}
	return true, now.Sub(current.since)
}
