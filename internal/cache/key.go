package cache

import (
	"net/url"
	"strings"
)

// Key identifies a cached resource as an ordered tuple of segments, e.g.
// {"seller", "orders", "live"}. Two keys are equal when their segments are.
type Key []string

// NewKey builds a key from segments.
func NewKey(segments ...string) Key {
	k := make(Key, len(segments))
	copy(k, segments)
	return k
}

// emptySegment stands for "" in the canonical form. A lone "%" is never
// produced by escaping, so it cannot collide with a real segment.
const emptySegment = "%"

// String returns the canonical form: escaped segments joined by "/".
// It is used as the map identity, the metrics label and the Redis key suffix.
// Distinct keys have distinct forms; the empty key is "".
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, s := range k {
		if s == "" {
			parts[i] = emptySegment
			continue
		}
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// ParseKey reverses String.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, nil
	}
	parts := strings.Split(s, "/")
	k := make(Key, len(parts))
	for i, p := range parts {
		if p == emptySegment {
			k[i] = ""
			continue
		}
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		k[i] = seg
	}
	return k, nil
}

// Equal reports structural equality.
func (k Key) Equal(o Key) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if k[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether the leading segments of k equal prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return k[:len(prefix)].Equal(prefix)
}
