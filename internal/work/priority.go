package work

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Priority is one of the five fixed urgency levels, P0 highest.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	P3
	P4

	// NumPriorities is the number of priority buckets per role.
	NumPriorities = 5
)

// String returns the canonical "P0".."P4" form.
func (p Priority) String() string {
	if p < P0 || p > P4 {
		return fmt.Sprintf("P?(%d)", int(p))
	}
	return [...]string{"P0", "P1", "P2", "P3", "P4"}[p]
}

// Valid reports whether p is one of the five defined levels.
func (p Priority) Valid() bool { return p >= P0 && p <= P4 }

// ParsePriority converts "P0".."P4" (or "p0".."p4") to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "P0", "p0":
		return P0, nil
	case "P1", "p1":
		return P1, nil
	case "P2", "p2":
		return P2, nil
	case "P3", "p3":
		return P3, nil
	case "P4", "p4":
		return P4, nil
	}
	return 0, fmt.Errorf("work: unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Priority) UnmarshalYAML(node *yaml.Node) error {
	return p.UnmarshalText([]byte(node.Value))
}
