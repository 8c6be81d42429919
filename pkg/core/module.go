package core

import "sync"

// Module is the main-thread record for one loaded module instance
// (e.g. a RAOP sink, the stream-restore module). Unload invokes the
// module's own teardown and is itself idempotent.
type Module struct {
	Index   uint32
	Name    string
	Args    string
	Unload  func()
	mu       sync.Mutex
	unloaded bool
}

func NewModule(name, args string, unload func()) *Module {
	return &Module{Name: name, Args: args, Unload: unload}
}

// RequestUnload is core_message(UNLOAD_MODULE) from spec.md §7's
// propagation policy: idempotent, safe to call from any goroutine.
func (m *Module) RequestUnload() {
	m.mu.Lock()
	if m.unloaded {
		m.mu.Unlock()
		return
	}
	m.unloaded = true
	m.mu.Unlock()
	if m.Unload != nil {
		m.Unload()
	}
}
