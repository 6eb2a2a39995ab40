package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"chattrix-calls/internal/calls"
)

// Inbound message types.
const (
	TypeAccept    = "call.accept"
	TypeReject    = "call.reject"
	TypeEnd       = "call.end"
	TypeHeartbeat = "heartbeat"
)

// Outbound replies addressed to the sending connection only.
const (
	TypeError        = "call.error"
	TypeCredential   = "call.credential"
	TypeHeartbeatAck = "heartbeat.ack"
)

// CallService is the part of calls.Service the websocket surface drives.
type CallService interface {
	Accept(ctx context.Context, callID, actorID string) (calls.Connection, error)
	Reject(ctx context.Context, callID, actorID, reason string) (calls.Call, error)
	End(ctx context.Context, callID, actorID, reason string) (calls.Call, error)
	ForceDisconnect(ctx context.Context, userID string)
}

type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type callRequest struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type ErrorPayload struct {
	CallID  string `json:"callId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CredentialPayload struct {
	CallID    string    `json:"callId"`
	ChannelID string    `json:"channelId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type HeartbeatAckPayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply is a frame sent back on the connection that issued the request.
type Reply struct {
	Type    string
	Payload any
}

type HandlerFunc func(ctx context.Context, userID string, payload json.RawMessage) (*Reply, error)

// Router resolves inbound message types to handlers. The table is fixed at
// construction.
type Router struct {
	calls    CallService
	handlers map[string]HandlerFunc
	log      *slog.Logger
	now      func() time.Time
}

func NewRouter(svc CallService, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{calls: svc, log: log, now: time.Now}
	r.handlers = map[string]HandlerFunc{
		TypeAccept:    r.accept,
		TypeReject:    r.reject,
		TypeEnd:       r.end,
		TypeHeartbeat: r.heartbeat,
	}
	return r
}

func (r *Router) Handles(msgType string) bool {
	_, ok := r.handlers[msgType]
	return ok
}

// Dispatch handles one raw frame from userID and returns the reply to write
// back, if any. Failures become call.error replies.
func (r *Router) Dispatch(ctx context.Context, userID string, raw []byte) *Reply {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorReply("", "invalid_request", "malformed message")
	}
	h, ok := r.handlers[in.Type]
	if !ok {
		return errorReply("", "unknown_type", "unsupported message type "+in.Type)
	}

	reply, err := h(ctx, userID, in.Payload)
	if err != nil {
		code := calls.Code(err)
		msg := err.Error()
		if code == "service_error" {
			r.log.Error("websocket handler failed", "type", in.Type, "user_id", userID, "err", err)
			msg = "an unexpected error occurred"
		} else {
			r.log.Warn("websocket request rejected", "type", in.Type, "user_id", userID, "code", code)
		}
		return errorReply(callIDOf(in.Payload), code, msg)
	}
	return reply
}

func (r *Router) accept(ctx context.Context, userID string, payload json.RawMessage) (*Reply, error) {
	req, err := parseCallRequest(payload)
	if err != nil {
		return nil, err
	}
	conn, err := r.calls.Accept(ctx, req.CallID, userID)
	if err != nil {
		return nil, err
	}
	if conn.Credential == nil {
		return nil, nil
	}
	return &Reply{Type: TypeCredential, Payload: CredentialPayload{
		CallID:    conn.Call.ID,
		ChannelID: conn.Call.ChannelID,
		Token:     conn.Credential.Token,
		ExpiresAt: conn.Credential.ExpiresAt,
	}}, nil
}

func (r *Router) reject(ctx context.Context, userID string, payload json.RawMessage) (*Reply, error) {
	req, err := parseCallRequest(payload)
	if err != nil {
		return nil, err
	}
	_, err = r.calls.Reject(ctx, req.CallID, userID, req.Reason)
	return nil, err
}

func (r *Router) end(ctx context.Context, userID string, payload json.RawMessage) (*Reply, error) {
	req, err := parseCallRequest(payload)
	if err != nil {
		return nil, err
	}
	_, err = r.calls.End(ctx, req.CallID, userID, req.Reason)
	return nil, err
}

func (r *Router) heartbeat(_ context.Context, userID string, _ json.RawMessage) (*Reply, error) {
	return &Reply{Type: TypeHeartbeatAck, Payload: HeartbeatAckPayload{UserID: userID, Timestamp: r.now().UTC()}}, nil
}

func parseCallRequest(payload json.RawMessage) (callRequest, error) {
	var req callRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return callRequest{}, errors.Join(calls.ErrInvalidArgument, err)
		}
	}
	req.CallID = strings.TrimSpace(req.CallID)
	if req.CallID == "" {
		return callRequest{}, calls.ErrInvalidArgument
	}
	return req, nil
}

func callIDOf(payload json.RawMessage) string {
	var req callRequest
	_ = json.Unmarshal(payload, &req)
	return req.CallID
}

func errorReply(callID, code, message string) *Reply {
	return &Reply{Type: TypeError, Payload: ErrorPayload{CallID: callID, Code: code, Message: message}}
}
