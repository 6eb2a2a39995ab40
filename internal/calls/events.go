package calls

// EventType is the "type" discriminator of a signaling message.
type EventType string

const (
	EventIncoming EventType = "call.incoming"
	EventAccepted EventType = "call.accepted"
	EventRejected EventType = "call.rejected"
	EventEnded    EventType = "call.ended"
	EventTimeout  EventType = "call.timeout"
)

// SystemActor is reported as endedBy when the service itself finalizes a call.
const SystemActor = "system"

const ReasonNoAnswer = "no_answer"

// IncomingPayload is sent to the callee when a call is initiated.
type IncomingPayload struct {
	CallID       string `json:"callId"`
	ChannelID    string `json:"channelId"`
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar"`
	CallType     Type   `json:"callType"`
}

// AcceptedPayload is sent to the caller when the callee accepts.
type AcceptedPayload struct {
	CallID     string `json:"callId"`
	AcceptedBy string `json:"acceptedBy"`
}

// RejectedPayload is sent to the caller when the callee rejects.
type RejectedPayload struct {
	CallID     string `json:"callId"`
	RejectedBy string `json:"rejectedBy"`
	Reason     string `json:"reason"`
}

// EndedPayload is sent to the participant that did not end the call.
type EndedPayload struct {
	CallID          string `json:"callId"`
	EndedBy         string `json:"endedBy"`
	DurationSeconds *int   `json:"durationSeconds"`
	Reason          string `json:"reason,omitempty"`
}

// TimeoutPayload is sent to both participants when a ringing call goes unanswered.
type TimeoutPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

func incomingPayload(c Call, caller Profile) IncomingPayload {
	return IncomingPayload{
		CallID:       c.ID,
		ChannelID:    c.ChannelID,
		CallerID:     c.CallerID,
		CallerName:   caller.DisplayName,
		CallerAvatar: caller.AvatarURL,
		CallType:     c.Type,
	}
}

func endedPayload(c Call, endedBy, reason string) EndedPayload {
	return EndedPayload{
		CallID:          c.ID,
		EndedBy:         endedBy,
		DurationSeconds: c.DurationSeconds,
		Reason:          reason,
	}
}
