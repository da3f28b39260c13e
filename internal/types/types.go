// Package types provides shared types used across multiple packages.
// This package has no dependencies on other takeoff packages to avoid import cycles.
package types

import "time"

// Timestamp returns the current time truncated to the precision stored by
// the persistence layer.
func Timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
