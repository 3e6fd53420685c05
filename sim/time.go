package sim

import (
	"math"

	"github.com/oklog/ulid/v2"
)

// Time is a point on the simulation's logical clock, in ticks.
type Time int64

// Forever is a horizon no event reaches.
const Forever Time = math.MaxInt64

// NewID generates a new ULID string for runs, events and messages.
func NewID() string {
	return ulid.Make().String()
}
