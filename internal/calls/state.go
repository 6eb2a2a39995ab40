package calls

import (
	"fmt"
	"time"
)

// edges lists the statuses reachable from each non-terminal status.
var edges = map[Status][]Status{
	StatusRinging:   {StatusConnected, StatusRejected, StatusMissed, StatusEnded, StatusFailed},
	StatusConnected: {StatusEnded, StatusFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the call to status `to` and stamps the lifecycle timestamps.
// On an illegal edge the call is left untouched and ErrInvalidStatus is returned.
func (c *Call) Transition(to Status, now time.Time) error {
	if c.Status.IsTerminal() {
		return fmt.Errorf("%w: call already %s", ErrInvalidStatus, c.Status)
	}
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, c.Status, to)
	}

	c.Status = to
	c.UpdatedAt = now

	if to == StatusConnected {
		start := now
		c.StartTime = &start
	}
	if to.IsTerminal() {
		end := now
		c.EndTime = &end
		if c.StartTime != nil {
			d := int(end.Sub(*c.StartTime) / time.Second)
			if d < 0 {
				d = 0
			}
			c.DurationSeconds = &d
		}
	}
	return nil
}
