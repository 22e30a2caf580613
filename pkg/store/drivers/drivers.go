// Package drivers groups database/sql driver registrations so the heavy
// engine dependencies stay out of plain go test/go vet runs unless a
// binary imports this package on purpose.
package drivers

// Ready is a no-op. Main packages call it from init so the import (and
// the driver registrations it triggers) is explicit rather than blank.
func Ready() {}
