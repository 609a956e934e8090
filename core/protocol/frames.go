package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FrameTypeAppend    = "append"
	FrameTypeEndOfTurn = "end_of_turn"
)

var (
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrEmptySequence    = errors.New("append frame carries no sequence")
)

// AppendFrame carries one batch of landmark vectors to accumulate. It has no
// side effect beyond storage.
type AppendFrame struct {
	Type     string      `json:"type"`
	Sequence [][]float64 `json:"sequence"`
}

// EndOfTurnFrame flushes the accumulated batches into a pipeline job. Tone is
// the preference for this turn only.
type EndOfTurnFrame struct {
	Type string `json:"type"`
	Tone string `json:"tone"`
}

type InboundFrame interface {
	inboundFrame()
}

func (AppendFrame) inboundFrame()    {}
func (EndOfTurnFrame) inboundFrame() {}

// ParseInbound decodes a single client frame. A parse failure is reported to
// the sending connection only, so errors carry no connection state.
func ParseInbound(raw []byte) (InboundFrame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode frame envelope: %w", err)
	}

	switch envelope.Type {
	case FrameTypeAppend:
		var frame AppendFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("failed to decode append frame: %w", err)
		}
		if len(frame.Sequence) == 0 {
			return nil, ErrEmptySequence
		}
		return frame, nil
	case FrameTypeEndOfTurn:
		var frame EndOfTurnFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("failed to decode end of turn frame: %w", err)
		}
		return frame, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, envelope.Type)
	}
}

// SuccessFrame is the terminal frame for a turn that made it through the whole
// pipeline: synthesized audio plus the transcript it was synthesized from.
type SuccessFrame struct {
	AudioData string `json:"audioData"`
	Sentence  string `json:"sentence"`
}

// ToneFrame reports the conversational tone the pipeline detected for a turn.
type ToneFrame struct {
	ConversationTone string `json:"conversationTone"`
}

// FailureFrame is the degraded terminal frame: transcript-only output with an
// explicit failure marker in the tone slot.
type FailureFrame struct {
	FallbackText     string `json:"fallbackText"`
	ConversationTone string `json:"conversationTone"`
}

// ErrorFrame reports a transport-level problem (typically a malformed inbound
// frame) to the connection that caused it.
type ErrorFrame struct {
	Error string `json:"error"`
}

const failureTone = "Error"

// NewFailureFrame wraps a transcript salvaged from a failed stage into the
// degraded-output frame delivered in place of audio.
func NewFailureFrame(sentence string) FailureFrame {
	return FailureFrame{
		FallbackText:     fmt.Sprintf("Audio unavailable. Translation: %q", sentence),
		ConversationTone: failureTone,
	}
}

func Marshal(frame any) ([]byte, error) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbound frame: %w", err)
	}
	return raw, nil
}
