// Package clock is the engine's single time source. Services read time
// through Now so tests can pin it when asserting timestamps, retry
// schedules and daily policy counters.
package clock

import "time"

// NowFunc supplies the current time. Tests swap it for a fixed value.
var NowFunc = time.Now

// Now returns the current time from NowFunc.
func Now() time.Time { return NowFunc() }
