// Package ident holds the typed identifier shared by every entity.
package ident

import (
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/utilities"
)

// ID is a stable entity identifier. Ownership, self and assignee checks
// compare IDs only through Equal.
type ID string

// New returns a fresh KSUID-backed identifier.
func New() ID { return ID(utilities.NewKSUID()) }

func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return id == "" }

// Equal is true iff both identifiers are non-empty and byte-equal.
func (id ID) Equal(other ID) bool {
	return id != "" && id == other
}

// Ptr returns a pointer to id, or nil when id is empty.
func Ptr(id ID) *ID {
	if id == "" {
		return nil
	}
	return &id
}

// Deref returns the pointed-to identifier or the zero ID.
func Deref(p *ID) ID {
	if p == nil {
		return ""
	}
	return *p
}

// EqualPtr compares two optional identifiers: both nil, or both set and Equal.
func EqualPtr(a, b *ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
