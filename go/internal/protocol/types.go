package protocol

import "encoding/json"

// MessageType represents the type of a wire message
type MessageType string

const (
	TypeLoadScript MessageType = "LOAD_SCRIPT"
	TypeSetParams  MessageType = "SET_PARAMS"
	TypePlay       MessageType = "PLAY"
	TypePause      MessageType = "PAUSE"
	TypeSeekAbs    MessageType = "SEEK_ABS"
	TypeSeekRel    MessageType = "SEEK_REL"
	TypeJumpTop    MessageType = "JUMP_TOP"
	TypeJumpEnd    MessageType = "JUMP_END"
	TypePing       MessageType = "PING"
	TypePong       MessageType = "PONG"
	TypeKeyframe   MessageType = "KF"
	TypeRequestKF  MessageType = "REQUEST_KF"
	TypeAck        MessageType = "ACK"
	TypeError      MessageType = "ERROR"

	// TypePeers is emitted by the relay itself whenever the peer set changes
	TypePeers MessageType = "PEERS"
)

// ErrorCode classifies an ERROR reply
type ErrorCode string

const (
	CodeVersionMismatch  ErrorCode = "VERSION_MISMATCH"
	CodeInvalidState     ErrorCode = "INVALID_STATE"
	CodeInvalidLineIndex ErrorCode = "INVALID_LINE_INDEX"
	CodeTimeout          ErrorCode = "TIMEOUT"
)

// KeyframeReason records why the presenter emitted a keyframe
type KeyframeReason string

const (
	ReasonLoad        KeyframeReason = "LOAD"
	ReasonParamChange KeyframeReason = "PARAM_CHANGE"
	ReasonPlayStart   KeyframeReason = "PLAY_START"
	ReasonPause       KeyframeReason = "PAUSE"
	ReasonSeekAbs     KeyframeReason = "SEEK_ABS"
	ReasonSeekRel     KeyframeReason = "SEEK_REL"
	ReasonJumpTop     KeyframeReason = "JUMP_TOP"
	ReasonJumpEnd     KeyframeReason = "JUMP_END"
	ReasonPeriodic    KeyframeReason = "PERIODIC"
	ReasonRequested   KeyframeReason = "REQUESTED"
)

// Envelope is the base structure of every message on the wire
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`       // per-sender, never reused
	Timestamp int64           `json:"timestamp,omitempty"` // unix ms, sender clock
	From      string          `json:"from,omitempty"`      // sender node ID
}

// IsCommand reports whether t is a presenter command issued by a controller
func IsCommand(t MessageType) bool {
	switch t {
	case TypeLoadScript, TypeSetParams, TypePlay, TypePause,
		TypeSeekAbs, TypeSeekRel, TypeJumpTop, TypeJumpEnd:
		return true
	}
	return false
}

// IsVersioned reports whether commands of type t must carry the current scriptVersion.
// LOAD_SCRIPT creates a version instead of targeting one.
func IsVersioned(t MessageType) bool {
	return IsCommand(t) && t != TypeLoadScript
}

// RequiresAck reports whether a command of type t is confirmed with an ACK
func RequiresAck(t MessageType) bool {
	switch t {
	case TypeLoadScript, TypeSetParams, TypePlay, TypePause:
		return true
	}
	return false
}
