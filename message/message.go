// Package message implements the core's immutable, content-addressed Message
// value type along with the streaming types layered over it:
// Token, MessagePromise, and MessageSequencePromise.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Role tags a message's conversational role. Subtypes are free to ignore it.
type Role string

// Well-known roles. Subtypes may use other string values freely — Role is not
// a closed enum, matching the source's permissive role tagging.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Type describes a message subtype: its schema and which of its fields may
// hold nested messages. Construct once per subtype and reuse; Type values are
// immutable after creation.
type Type struct {
	// Name identifies the subtype; it is recorded in a Message's canonical
	// encoding and in its serialized Record.
	Name string
	// Schema validates the subtype's scalar field set. May be nil.
	Schema *Schema
	// NestedFields lists the field names whose values are nested messages
	// (a single *Message or a []*Message under that key).
	NestedFields []string
}

func (t *Type) isNestedField(name string) bool {
	for _, f := range t.NestedFields {
		if f == name {
			return true
		}
	}
	return false
}

var (
	textSchema, _  = CompileSchema("agentcore:text", []byte(textSchemaJSON))
	errorSchema, _ = CompileSchema("agentcore:error", []byte(errorSchemaJSON))

	// TextType is the default message subtype: a plain textual payload with
	// an optional role, used for any scalar input converted to a Message by
	// a FlatteningSequence.
	TextType = &Type{Name: "text", Schema: textSchema}

	// ErrorType is the subtype errors_as_messages converts uncaught producer
	// errors into.
	ErrorType = &Type{Name: "error", Schema: errorSchema}
)

// Message is an immutable, content-addressed structured record.
// Once built it has no exported mutator: the "frozen after construction"
// invariant is enforced by the type system rather than by a runtime check,
// since there is no public API through which a built Message could be
// mutated at all.
type Message struct {
	typ    *Type
	fields map[string]any
	nested map[string][]*Message

	hashOnce sync.Once
	hash     string
}

// Builder assembles a Message's field set before freezing it with Build.
// Because a message may only reference messages that already exist, nested
// messages are always passed to SetNested already built, so "a message
// cannot reference a message not yet created" is enforced by construction
// order rather than a runtime cycle check.
type Builder struct {
	typ    *Type
	fields map[string]any
	nested map[string][]*Message
}

// NewBuilder starts building a Message of subtype typ.
func NewBuilder(typ *Type) *Builder {
	return &Builder{typ: typ, fields: map[string]any{}, nested: map[string][]*Message{}}
}

// Set assigns a scalar field value. Returns the Builder for chaining.
func (b *Builder) Set(field string, value any) *Builder {
	b.fields[field] = value
	return b
}

// SetNested assigns one or more already-built nested messages to field.
// Returns the Builder for chaining.
func (b *Builder) SetNested(field string, msgs ...*Message) *Builder {
	b.nested[field] = append([]*Message(nil), msgs...)
	return b
}

// Build validates the assembled fields against the subtype's schema and
// freezes the result into an immutable Message.
func (b *Builder) Build() (*Message, error) {
	if b.typ == nil {
		return nil, fmt.Errorf("message: builder missing a Type")
	}
	for field := range b.nested {
		if !b.typ.isNestedField(field) {
			return nil, fmt.Errorf("message: field %q is not declared as a nested field on type %q", field, b.typ.Name)
		}
	}
	if err := b.typ.Schema.Validate(b.fields); err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(b.fields))
	for k, v := range b.fields {
		fields[k] = v
	}
	nested := make(map[string][]*Message, len(b.nested))
	for k, v := range b.nested {
		nested[k] = append([]*Message(nil), v...)
	}
	return &Message{typ: b.typ, fields: fields, nested: nested}, nil
}

// New is a convenience for NewBuilder(typ).Set(...).Build() style one-shot
// construction from a flat field map with no nested messages.
func New(typ *Type, fields map[string]any) (*Message, error) {
	b := NewBuilder(typ)
	for k, v := range fields {
		b.Set(k, v)
	}
	return b.Build()
}

// NewText builds a TextType message with the given role and payload.
func NewText(role Role, payload string) (*Message, error) {
	return NewBuilder(TextType).Set("payload", payload).Set("role", string(role)).Build()
}

// FromString converts a bare scalar into a default-typed user message, the
// way a FlatteningSequence converts a plain string input item.
func FromString(s string) (*Message, error) {
	return NewText(RoleUser, s)
}

// NewError builds an ErrorType message carrying errType and errText, used by
// the errors_as_messages conversion .
func NewError(errType, errText string) (*Message, error) {
	return NewBuilder(ErrorType).
		Set("payload", fmt.Sprintf("%s: %s", errType, errText)).
		Set("error_type", errType).
		Set("error_text", errText).
		Build()
}

// Type returns the message's subtype.
func (m *Message) Type() *Type { return m.typ }

// Field returns a scalar field's value and whether it was set.
func (m *Message) Field(name string) (any, bool) {
	v, ok := m.fields[name]
	return v, ok
}

// Fields returns a copy of the scalar field map.
func (m *Message) Fields() map[string]any {
	out := make(map[string]any, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// Payload returns the "payload" field as a string, or "" if absent or not a
// string.
func (m *Message) Payload() string {
	if v, ok := m.fields["payload"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Role returns the "role" field, or "" if absent.
func (m *Message) Role() Role {
	if v, ok := m.fields["role"]; ok {
		if s, ok := v.(string); ok {
			return Role(s)
		}
	}
	return ""
}

// Nested returns the nested messages stored under field, or nil.
func (m *Message) Nested(field string) []*Message {
	return append([]*Message(nil), m.nested[field]...)
}

// Equal reports whether m and other have the same content, per their
// HashKey.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.HashKey() == other.HashKey()
}

// HashKey returns the lowercase hex sha-256 of the message's canonical
// encoding, computed lazily and cached.
func (m *Message) HashKey() string {
	m.hashOnce.Do(func() {
		m.hash = computeHash(m)
	})
	return m.hash
}

// canonicalDoc is the JSON shape hashed to produce a Message's HashKey.
// encoding/json marshals map[string]any keys in sorted order, which this
// type relies on to produce a deterministic encoding rather than hand-rolling
// a canonical writer.
type canonicalDoc struct {
	Type   string              `json:"$type"`
	Fields map[string]any      `json:"fields"`
	Nested map[string][]string `json:"$nested,omitempty"`
}

func computeHash(m *Message) string {
	nested := make(map[string][]string, len(m.nested))
	for field, msgs := range m.nested {
		refs := make([]string, len(msgs))
		for i, nm := range msgs {
			refs[i] = nm.HashKey()
		}
		nested[field] = refs
	}
	doc := canonicalDoc{Type: m.typ.Name, Fields: m.fields, Nested: nested}
	raw, err := json.Marshal(doc)
	if err != nil {
		// Fields of a subtype with a Schema have already round-tripped
		// through encoding/json during validation; a subtype without a
		// Schema can hold values encoding/json rejects. Fall back to a
		// type+sorted key fingerprint rather than panicking.
		raw = []byte(fallbackFingerprint(m))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func fallbackFingerprint(m *Message) string {
	keys := make([]string, 0, len(m.fields))
	for k := range m.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := m.typ.Name
	for _, k := range keys {
		s += fmt.Sprintf("|%s=%v", k, m.fields[k])
	}
	return s
}
