package metadata

import "maps"

// Metadata represents the tags carried alongside a queue or fan-out message.
// The builder helpers all work on copies, so a Metadata value can be shared
// across messages without aliasing surprises.
type Metadata map[string]string

// Clone makes a shallow copy; the receiver is never mutated. A nil receiver
// clones to an empty, writable map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	maps.Copy(cloned, m)
	return cloned
}

// With copies the map and sets one extra key/value pair on the copy.
func (m Metadata) With(key, value string) Metadata {
	cloned := make(Metadata, len(m)+1)
	maps.Copy(cloned, m)
	cloned[key] = value
	return cloned
}

// WithAll copies the map and merges the supplied entries into the copy.
// Entries win over existing keys.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := make(Metadata, len(m)+len(entries))
	maps.Copy(cloned, m)
	maps.Copy(cloned, entries)
	return cloned
}

// New builds a Metadata map from alternating key/value arguments. A trailing
// key without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
