package mapping

import (
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
)

// Type is a symbol category.
type Type int

const (
	TypeClass Type = iota
	TypeMethod
	TypeField
	TypeParam
)

// TypeInfo is the parsing metadata for one Type.
type TypeInfo struct {
	Name string
	// Key is the one-letter shorthand used by commands ("m" for methods).
	Key string
	// Entry is the archive entry holding the table. Empty means the type has
	// no backing table and is skipped at build time.
	Entry string
	// Prefixes are the intermediate-name prefixes that identify the type in
	// the owner table.
	Prefixes []string
	// Descriptors reports whether records of this type carry a descriptor.
	Descriptors bool
}

var registry = [...]TypeInfo{
	TypeClass:  {Name: "class", Key: "c"},
	TypeMethod: {Name: "method", Key: "m", Entry: "methods.csv", Prefixes: []string{"func_", "method_"}, Descriptors: true},
	TypeField:  {Name: "field", Key: "f", Entry: "fields.csv", Prefixes: []string{"field_"}, Descriptors: true},
	TypeParam:  {Name: "param", Key: "p", Entry: "params.csv", Prefixes: []string{"p_"}},
}

// Types returns every Type in registry order.
func Types() []Type {
	types := make([]Type, len(registry))
	for i := range registry {
		types[i] = Type(i)
	}
	return types
}

// Info returns the registry entry for t.
func (t Type) Info() TypeInfo {
	if t < 0 || int(t) >= len(registry) {
		return TypeInfo{Name: "unknown"}
	}
	return registry[t]
}

func (t Type) String() string {
	return t.Info().Name
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes any form ParseType accepts.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType accepts a type name, its plural, or its one-letter key.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, info := range registry {
		if s == info.Name || s == info.Name+"s" || s == info.Key {
			return Type(i), nil
		}
	}
	return 0, errors.Errorf("unknown mapping type %q", s)
}

// typeForIntermediate infers the type of an intermediate name from its prefix.
func typeForIntermediate(name string) Type {
	for i, info := range registry {
		for _, prefix := range info.Prefixes {
			if strings.HasPrefix(name, prefix) {
				return Type(i)
			}
		}
	}
	return TypeClass
}

// Side is the program distribution a symbol applies to.
type Side int

const (
	SideClient Side = iota
	SideServer
	SideBoth
)

var sideNames = [...]string{"client", "server", "both"}

func (s Side) String() string {
	if s < 0 || int(s) >= len(sideNames) {
		return "unknown"
	}
	return sideNames[s]
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side name.
func (s *Side) UnmarshalText(text []byte) error {
	for i, name := range sideNames {
		if string(text) == name {
			*s = Side(i)
			return nil
		}
	}
	return errors.Errorf("unknown side %q", text)
}

// Record is one row of a mapping table.
type Record struct {
	Type         Type    `json:"type"`
	Intermediate string  `json:"intermediate"`
	Official     *string `json:"official,omitempty"`
	Comment      *string `json:"comment,omitempty"`
	Side         Side    `json:"side"`
	Descriptor   *string `json:"descriptor,omitempty"`
	// OwnerHint is the declaring member's intermediate name, for params.
	OwnerHint *string `json:"owner_hint,omitempty"`
}

// Name returns the official name, falling back to the intermediate one.
func (r Record) Name() string {
	if r.Official != nil {
		return *r.Official
	}
	return r.Intermediate
}

// OwnerRecord ties an intermediate name to its declaring class.
type OwnerRecord struct {
	Type         Type
	Intermediate string
	Owner        string
	Descriptor   *string
}

// Source locates the files backing one version.
type Source struct {
	Version  string
	Mappings string
	Owners   string
}

// Stats summarises a built dataset.
type Stats struct {
	Version string       `json:"version"`
	BuildID string       `json:"build_id"`
	BuiltAt time.Time    `json:"built_at"`
	Records map[Type]int `json:"records"`
	Owners  int          `json:"owners"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
