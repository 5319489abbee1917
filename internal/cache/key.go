package cache

import (
	"slices"
	"strings"
)

// Key identifies a cached resource, e.g. {"stations"} or
// {"user-profile", "U1"}. Parts are compared in order.
type Key []string

// NewKey builds a key from its parts.
func NewKey(parts ...string) Key { return Key(parts) }

// String joins the parts with ":" for display.
func (k Key) String() string { return strings.Join(k, ":") }

// keySep cannot occur in ids or key names, so distinct keys never share an id.
const keySep = "\x00"

// id is the entry and in-flight identity of k.
func (k Key) id() string { return strings.Join(k, keySep) }

// HasPrefix reports whether prefix matches the leading parts of k. The empty
// key is a prefix of every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return slices.Equal(k[:len(prefix)], prefix)
}

// Equal reports whether both keys have identical parts.
func (k Key) Equal(other Key) bool { return slices.Equal(k, other) }
