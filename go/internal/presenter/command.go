package presenter

import (
	"fmt"
	"time"

	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/script"
)

// Command is a decoded controller command (or a keyframe request)
type Command struct {
	Type          protocol.MessageType
	ScriptVersion int

	Content string             // LOAD_SCRIPT
	Patch   script.ParamsPatch // SET_PARAMS
	StartAt time.Time          // PLAY, zero means now
	Line    int                // SEEK_ABS
	Delta   float64            // SEEK_REL
}

// CommandError rejects a command with a protocol error code
type CommandError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code protocol.ErrorCode, format string, args ...any) *CommandError {
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DecodeCommand extracts a Command from an envelope
func DecodeCommand(env protocol.Envelope) (Command, error) {
	cmd := Command{Type: env.Type}
	var err error
	switch env.Type {
	case protocol.TypeLoadScript:
		var p protocol.LoadScriptPayload
		if p, err = protocol.DecodePayload[protocol.LoadScriptPayload](env); err == nil {
			cmd.ScriptVersion = p.ScriptVersion
			cmd.Content = p.Content
		}
	case protocol.TypeSetParams:
		var p protocol.SetParamsPayload
		if p, err = protocol.DecodePayload[protocol.SetParamsPayload](env); err == nil {
			cmd.ScriptVersion = p.ScriptVersion
			cmd.Patch = p.Params
		}
	case protocol.TypePlay:
		var p protocol.PlayPayload
		if p, err = protocol.DecodePayload[protocol.PlayPayload](env); err == nil {
			cmd.ScriptVersion = p.ScriptVersion
			if p.StartAt > 0 {
				cmd.StartAt = protocol.MillisToTime(p.StartAt)
			}
		}
	case protocol.TypeSeekAbs:
		var p protocol.SeekAbsPayload
		if p, err = protocol.DecodePayload[protocol.SeekAbsPayload](env); err == nil {
			cmd.ScriptVersion = p.ScriptVersion
			cmd.Line = p.LineIndex
		}
	case protocol.TypeSeekRel:
		var p protocol.SeekRelPayload
		if p, err = protocol.DecodePayload[protocol.SeekRelPayload](env); err == nil {
			cmd.ScriptVersion = p.ScriptVersion
			cmd.Delta = p.Delta
		}
	case protocol.TypePause, protocol.TypeJumpTop, protocol.TypeJumpEnd:
		var p protocol.CommandHeader
		if p, err = protocol.DecodePayload[protocol.CommandHeader](env); err == nil {
			cmd.ScriptVersion = p.ScriptVersion
		}
	case protocol.TypeRequestKF:
		// payload is optional
		if len(env.Data) > 0 {
			var p protocol.RequestKeyframePayload
			if p, err = protocol.DecodePayload[protocol.RequestKeyframePayload](env); err == nil {
				cmd.ScriptVersion = p.ScriptVersion
			}
		}
	default:
		return Command{}, fmt.Errorf("not a presenter command: %s", env.Type)
	}
	if err != nil {
		return Command{}, err
	}
	return cmd, nil
}
