package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/driftsync/driftsync/internal/core/mutation"
)

// Frame types on the wire.
const (
	FrameSubmit = "submit"
	FrameAck    = "ack"
	FrameReject = "reject"
)

// Frame is the JSON envelope both the websocket and QUIC transports speak.
// Exactly one payload member is set, matching Type.
type Frame struct {
	Type   string         `json:"type"`
	Submit *SubmitPayload `json:"submit,omitempty"`
	Ack    *mutation.Result `json:"ack,omitempty"`
	Reject *RejectPayload `json:"reject,omitempty"`
}

// SubmitPayload carries one batch upstream, with the watch target ids of
// every document it touches.
type SubmitPayload struct {
	Batch   *mutation.Batch `json:"batch"`
	Targets []uint64        `json:"targets"`
}

// RejectPayload reports a refused batch.
type RejectPayload struct {
	BatchID int64  `json:"batch_id"`
	Cause   string `json:"cause"`
}

// EncodeSubmit builds the wire bytes for one batch.
func EncodeSubmit(batch *mutation.Batch) ([]byte, error) {
	targets := make([]uint64, 0, len(batch.Mutations))
	for _, key := range batch.Keys() {
		targets = append(targets, TargetID(key))
	}
	return json.Marshal(Frame{
		Type:   FrameSubmit,
		Submit: &SubmitPayload{Batch: batch, Targets: targets},
	})
}

// EncodeAck builds the wire bytes for a commit acknowledgement.
func EncodeAck(res *mutation.Result) ([]byte, error) {
	return json.Marshal(Frame{Type: FrameAck, Ack: res})
}

// EncodeReject builds the wire bytes for a rejection.
func EncodeReject(batchID int64, cause string) ([]byte, error) {
	return json.Marshal(Frame{
		Type:   FrameReject,
		Reject: &RejectPayload{BatchID: batchID, Cause: cause},
	})
}

// DecodeFrame parses wire bytes and checks the payload matches the type.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	switch f.Type {
	case FrameSubmit:
		if f.Submit == nil || f.Submit.Batch == nil {
			return nil, fmt.Errorf("submit frame without batch")
		}
	case FrameAck:
		if f.Ack == nil {
			return nil, fmt.Errorf("ack frame without result")
		}
	case FrameReject:
		if f.Reject == nil {
			return nil, fmt.Errorf("reject frame without payload")
		}
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return &f, nil
}

// Event converts a decoded server frame into the transport event form.
// Submit frames have no event form.
func (f *Frame) Event() (ServerEvent, error) {
	switch f.Type {
	case FrameAck:
		return ServerEvent{Type: EventAck, BatchID: f.Ack.BatchID, Result: f.Ack}, nil
	case FrameReject:
		return ServerEvent{Type: EventReject, BatchID: f.Reject.BatchID, Cause: f.Reject.Cause}, nil
	default:
		return ServerEvent{}, fmt.Errorf("frame type %q is not a server event", f.Type)
	}
}
