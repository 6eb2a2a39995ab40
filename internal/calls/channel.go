package calls

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	MaxChannelIDLength = 64

	// MaxUserIDLength keeps channel_{13-digit millis}_{caller}_{callee} within
	// MaxChannelIDLength for any pair of valid ids.
	MaxUserIDLength = 20
)

// ValidateUserID rejects ids that are empty or too long to fit a channel id.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("%w: user id exceeds %d characters", ErrInvalidArgument, MaxUserIDLength)
	}
	return nil
}

// channelClock hands out strictly increasing millisecond timestamps so two calls
// created in the same millisecond never share a channel id.
type channelClock struct {
	last atomic.Int64
}

func (c *channelClock) next(now time.Time) int64 {
	for {
		prev := c.last.Load()
		ms := now.UnixMilli()
		if ms <= prev {
			ms = prev + 1
		}
		if c.last.CompareAndSwap(prev, ms) {
			return ms
		}
	}
}

// ChannelID builds the media routing key channel_{millis}_{callerId}_{calleeId}.
func ChannelID(millis int64, callerID, calleeID string) (string, error) {
	id := fmt.Sprintf("channel_%d_%s_%s", millis, callerID, calleeID)
	if len(id) > MaxChannelIDLength {
		return "", fmt.Errorf("%w: channel id exceeds %d characters", ErrInvalidArgument, MaxChannelIDLength)
	}
	return id, nil
}
