package domain

import "github.com/google/uuid"

// IDFunc produces fresh identifiers. The stores and GuestAuth take one so
// their ids can be made deterministic; board edits always use MakeID.
type IDFunc func() string

// MakeID returns a time-ordered UUIDv7: 48 bits of milliseconds followed by
// random bits. Any client or server may call it without coordination.
func MakeID() string {
	return uuid.Must(uuid.NewV7()).String()
}
