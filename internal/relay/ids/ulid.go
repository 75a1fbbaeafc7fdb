package ids

import "github.com/oklog/ulid/v2"

// CreateULID mints a time-sortable ULID as a 26-character string. Queue and
// fan-out message identifiers come from here; ids are strictly increasing
// within the process, so re-submitting the same input yields a fresh id that
// sorts after the first.
func CreateULID() string {
	return ulid.Make().String()
}
