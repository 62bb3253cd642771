package message

import (
	"fmt"
	"sync"
)

// Record is a Message's structured wire form: sufficient to reconstruct the
// Message given a TypeRegistry that knows its subtype. Nested messages
// serialize by hash-key reference into Sidecar rather than being inlined, per
// ("nested messages serialize by hash key reference plus a content
// sidecar").
type Record struct {
	Type       string              `json:"type"`
	Fields     map[string]any      `json:"fields"`
	NestedRefs map[string][]string `json:"nested_refs,omitempty"`
	Sidecar    map[string]*Record  `json:"sidecar,omitempty"`
}

// Serialize produces m's wire Record, flattening every transitively nested
// message into Sidecar keyed by hash key so a single Record is self-contained.
func (m *Message) Serialize() *Record {
	sidecar := map[string]*Record{}
	rec := m.serializeInto(sidecar)
	rec.Sidecar = sidecar
	return rec
}

func (m *Message) serializeInto(sidecar map[string]*Record) *Record {
	nestedRefs := make(map[string][]string, len(m.nested))
	for field, msgs := range m.nested {
		refs := make([]string, len(msgs))
		for i, nm := range msgs {
			refs[i] = nm.HashKey()
			if _, ok := sidecar[nm.HashKey()]; !ok {
				// Each distinct nested message is serialized into the
				// sidecar once, keyed by its hash key.
				sidecar[nm.HashKey()] = nm.serializeInto(sidecar)
			}
		}
		nestedRefs[field] = refs
	}
	return &Record{Type: m.typ.Name, Fields: m.Fields(), NestedRefs: nestedRefs}
}

// TypeRegistry resolves subtype names to Type values during Deserialize.
// The zero value is not usable; construct with NewTypeRegistry.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewTypeRegistry returns a TypeRegistry pre-populated with the built-in
// TextType and ErrorType subtypes.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{types: map[string]*Type{}}
	r.Register(TextType)
	r.Register(ErrorType)
	return r
}

// Register adds or replaces a subtype by name.
func (r *TypeRegistry) Register(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = t
}

// Lookup returns the subtype registered under name.
func (r *TypeRegistry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Deserialize reconstructs a Message from rec, resolving nested references
// against rec.Sidecar and subtypes against reg. Messages are rebuilt
// bottom-up and memoized by hash key so a message referenced from multiple
// fields is only rebuilt once.
func Deserialize(rec *Record, reg *TypeRegistry) (*Message, error) {
	cache := map[string]*Message{}
	return deserializeRecord(rec, rec.Sidecar, reg, cache)
}

func deserializeRecord(rec *Record, sidecar map[string]*Record, reg *TypeRegistry, cache map[string]*Message) (*Message, error) {
	typ, ok := reg.Lookup(rec.Type)
	if !ok {
		return nil, fmt.Errorf("message: unknown subtype %q", rec.Type)
	}
	b := NewBuilder(typ)
	for k, v := range rec.Fields {
		b.Set(k, v)
	}
	for field, refs := range rec.NestedRefs {
		msgs := make([]*Message, len(refs))
		for i, ref := range refs {
			if cached, ok := cache[ref]; ok {
				msgs[i] = cached
				continue
			}
			nestedRec, ok := sidecar[ref]
			if !ok {
				return nil, fmt.Errorf("message: missing sidecar entry for nested ref %q", ref)
			}
			nm, err := deserializeRecord(nestedRec, sidecar, reg, cache)
			if err != nil {
				return nil, err
			}
			cache[ref] = nm
			msgs[i] = nm
		}
		b.SetNested(field, msgs...)
	}
	return b.Build()
}
