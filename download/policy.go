package download

import "time"

const (
	normalAfter = time.Second
	speedAfter  = 2 * time.Second
)

// LevelFor picks the executor power level for a task about to run. Low
// priority work never scales the pool up; high priority work scales with
// how long it sat in the queue.
func LevelFor(high bool, waited time.Duration) PowerLevel {
	switch {
	case !high:
		return Economy
	case waited > speedAfter:
		return Speed
	case waited > normalAfter:
		return Normal
	default:
		return Economy
	}
}
