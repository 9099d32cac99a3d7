package protocol

import (
	"fmt"

	"github.com/mcdev12/cuesync/go/internal/script"
)

// CommandHeader is embedded in every command payload
type CommandHeader struct {
	ScriptVersion int `json:"scriptVersion"`
}

// LoadScriptPayload replaces the presenter's script
type LoadScriptPayload struct {
	CommandHeader
	Content  string `json:"content"`
	TextHash string `json:"textHash,omitempty"`
}

// SetParamsPayload carries a partial playback parameter update
type SetParamsPayload struct {
	CommandHeader
	Params script.ParamsPatch `json:"params"`
}

// PlayPayload starts playback. StartAt is a network-time instant in unix ms;
// zero means "as soon as received".
type PlayPayload struct {
	CommandHeader
	StartAt int64 `json:"startAt,omitempty"`
}

// PausePayload freezes playback at the current position
type PausePayload struct {
	CommandHeader
}

// SeekAbsPayload moves to an absolute line
type SeekAbsPayload struct {
	CommandHeader
	LineIndex int `json:"lineIndex"`
}

// SeekRelPayload moves by a (possibly fractional) number of lines
type SeekRelPayload struct {
	CommandHeader
	Delta float64 `json:"delta"`
}

// JumpPayload is used by JUMP_TOP and JUMP_END
type JumpPayload struct {
	CommandHeader
}

// RequestKeyframePayload asks the presenter for an immediate keyframe
type RequestKeyframePayload struct {
	ScriptVersion int `json:"scriptVersion,omitempty"`
}

// PingPayload opens one clock synchronization round trip
type PingPayload struct {
	Nonce          uint64 `json:"nonce"`
	ClientSendTime int64  `json:"clientSendTime"`
}

// PongPayload answers a PING with the responder's clock reading
type PongPayload struct {
	Nonce          uint64 `json:"nonce"`
	ClientSendTime int64  `json:"clientSendTime"`
	ServerTime     int64  `json:"serverTime"`
}

// Mirror flags as carried in keyframes
type Mirror struct {
	Horizontal bool `json:"horizontal"`
	Vertical   bool `json:"vertical"`
}

// KeyframePayload is the authoritative position snapshot broadcast by the presenter.
// AnchorTime is network time in unix ms.
type KeyframePayload struct {
	LineIndex      int            `json:"lineIndex"`
	FractionalLine float64        `json:"fractionalLine"`
	AnchorTime     int64          `json:"anchorTime"`
	ScriptVersion  int            `json:"scriptVersion"`
	TextHash       string         `json:"textHash,omitempty"`
	Speed          float64        `json:"speed"`
	LineHeight     float64        `json:"lineHeight"`
	FontSize       float64        `json:"fontSize"`
	Mirror         Mirror         `json:"mirror"`
	Params         script.Params  `json:"params"`
	LineCount      int            `json:"lineCount"`
	Playing        bool           `json:"playing"`
	Reason         KeyframeReason `json:"reason"`
}

// AckPayload confirms that a command was applied
type AckPayload struct {
	OriginalSeq   uint64 `json:"originalSeq"`
	ScriptVersion int    `json:"scriptVersion"`
	To            string `json:"to,omitempty"`
}

// ErrorPayload rejects a command
type ErrorPayload struct {
	Code                  ErrorCode `json:"code"`
	Message               string    `json:"message"`
	ExpectedScriptVersion int       `json:"expectedScriptVersion"`
	OriginalSeq           uint64    `json:"originalSeq,omitempty"`
	To                    string    `json:"to,omitempty"`
}

func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// PeersPayload reports the relay's current peer count
type PeersPayload struct {
	ConnectedPeers int `json:"connectedPeers"`
}
