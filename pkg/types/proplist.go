package types

import (
	"sort"
)

// Proplist is an ordered map string -> bytes of descriptive metadata
// attached to core objects (§3, used by the "P" tag of §4.F).
type Proplist struct {
	keys   []string
	values map[string][]byte
}

func NewProplist() *Proplist {
	return &Proplist{values: make(map[string][]byte)}
}

// Sets assigns key to val, preserving first-insertion order on repeated
// updates (pulseaudio's pa_proplist_sets semantics).
func (p *Proplist) Sets(key, val string) { p.SetBytes(key, []byte(val)) }

func (p *Proplist) SetBytes(key string, val []byte) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = val
}

func (p *Proplist) Gets(key string) (string, bool) {
	v, ok := p.values[key]
	return string(v), ok
}

func (p *Proplist) GetBytes(key string) ([]byte, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p *Proplist) Unset(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns keys in insertion order.
func (p *Proplist) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// SortedKeys is used only where a deterministic, not insertion-order,
// iteration is required (e.g. stable-hash canonicalisation).
func (p *Proplist) SortedKeys() []string {
	out := p.Keys()
	sort.Strings(out)
	return out
}

func (p *Proplist) Len() int { return len(p.keys) }
