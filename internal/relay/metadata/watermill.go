package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Both Metadata and Watermill's message.Metadata share map[string]string
// underneath. Watermill mutates message metadata on its side, so both
// directions copy rather than alias.

// FromWatermill copies Watermill message metadata into relay metadata.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	maps.Copy(out, md)
	return out
}

// ToWatermill copies relay metadata into a Watermill metadata map.
func ToWatermill(md Metadata) message.Metadata {
	out := make(message.Metadata, len(md))
	maps.Copy(out, md)
	return out
}
