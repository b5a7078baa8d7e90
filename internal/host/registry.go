package host

import (
	"sync"

	"github.com/nupi-ai/svchost/internal/listener"
)

type liveEntry struct {
	owner    *Service
	listener listener.Listener
}

// live tracks the open listener per implementation name across every host
// in the process so a stale listener is never left serving next to a new one.
var live = struct {
	sync.Mutex
	entries map[string]liveEntry
}{entries: make(map[string]liveEntry)}

// evict force-closes whatever listener is registered for name and moves its
// owning host to closed.
func evict(name string) {
	live.Lock()
	prev, ok := live.entries[name]
	delete(live.entries, name)
	live.Unlock()
	if !ok {
		return
	}
	prev.listener.Abort()
	if prev.owner != nil {
		prev.owner.evicted()
	}
}

func track(name string, owner *Service, l listener.Listener) {
	live.Lock()
	live.entries[name] = liveEntry{owner: owner, listener: l}
	live.Unlock()
}

// untrack removes l if it is still the registered listener for name.
func untrack(name string, l listener.Listener) {
	live.Lock()
	if live.entries[name].listener == l {
		delete(live.entries, name)
	}
	live.Unlock()
}
