package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKeyframe(t *testing.T) {
	now := time.UnixMilli(1_700_000_123_456)
	kf := KeyframePayload{
		LineIndex:      4,
		FractionalLine: 4.5,
		AnchorTime:     now.UnixMilli(),
		ScriptVersion:  2,
		Speed:          60,
		Playing:        true,
		Reason:         ReasonPeriodic,
	}
	raw, err := Encode(TypeKeyframe, kf, "presenter-1", now)
	require.NoError(t, err)

	env, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeKeyframe, env.Type)
	require.Equal(t, "presenter-1", env.From)
	require.Equal(t, now.UnixMilli(), env.Timestamp)
	require.Zero(t, env.Seq)

	got, err := DecodePayload[KeyframePayload](env)
	require.NoError(t, err)
	require.Equal(t, kf, got)
}

func TestCommandHeaderOnTheWire(t *testing.T) {
	env, err := NewEnvelope(TypeSeekAbs, SeekAbsPayload{CommandHeader: CommandHeader{ScriptVersion: 3}, LineIndex: 9})
	require.NoError(t, err)
	require.JSONEq(t, `{"scriptVersion":3,"lineIndex":9}`, string(env.Data))

	env.Seq = 17
	raw, err := env.Marshal()
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Equal(t, "SEEK_ABS", generic["type"])
	require.EqualValues(t, 17, generic["seq"])
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = Decode([]byte(`{"data":{}}`))
	require.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)

	_, err = DecodePayload[PausePayload](Envelope{Type: TypePause})
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = NewEnvelope("", nil)
	require.ErrorIs(t, err, ErrMissingType)
}

func TestPeekType(t *testing.T) {
	typ, err := PeekType([]byte(`{"type":"PING","data":{"nonce":1,"clientSendTime":5}}`))
	require.NoError(t, err)
	require.Equal(t, TypePing, typ)

	_, err = PeekType([]byte(`{"data":1}`))
	require.ErrorIs(t, err, ErrMissingType)

	_, err = PeekType(nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestCommandClassification(t *testing.T) {
	for _, tc := range []struct {
		typ       MessageType
		command   bool
		versioned bool
		ack       bool
	}{
		{TypeLoadScript, true, false, true},
		{TypeSetParams, true, true, true},
		{TypePlay, true, true, true},
		{TypePause, true, true, true},
		{TypeSeekAbs, true, true, false},
		{TypeSeekRel, true, true, false},
		{TypeJumpTop, true, true, false},
		{TypeJumpEnd, true, true, false},
		{TypeRequestKF, false, false, false},
		{TypeKeyframe, false, false, false},
		{TypePing, false, false, false},
	} {
		t.Run(string(tc.typ), func(t *testing.T) {
			require.Equal(t, tc.command, IsCommand(tc.typ))
			require.Equal(t, tc.versioned, IsVersioned(tc.typ))
			require.Equal(t, tc.ack, RequiresAck(tc.typ))
		})
	}
}

func TestErrorPayloadIsError(t *testing.T) {
	var err error = &ErrorPayload{Code: CodeVersionMismatch, Message: "stale", ExpectedScriptVersion: 4}
	require.EqualError(t, err, "VERSION_MISMATCH: stale")
}
