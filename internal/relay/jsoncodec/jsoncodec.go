// Package jsoncodec centralizes JSON encoding for the relay pipeline. All
// envelope, record, and response serialization goes through sonic configured
// for encoding/json-compatible output, so wire bytes stay stable regardless
// of which component produced them.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// std is sonic locked to encoding/json-compatible behavior: sorted map
// keys, HTML escaping, and the same error surface the stdlib reports.
var std = sonic.ConfigStd

// Marshal renders v as compact JSON.
func Marshal(v any) ([]byte, error) { return std.Marshal(v) }

// MarshalIndent renders v with the given prefix and indent. The pretty
// ops endpoints use it; wire payloads stay compact.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

// Unmarshal parses data into v.
func Unmarshal(data []byte, v any) error { return std.Unmarshal(data, v) }

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error { return std.NewEncoder(w).Encode(v) }

// Decode reads the next JSON value from r into v.
func Decode(r io.Reader, v any) error { return std.NewDecoder(r).Decode(v) }
