package dispatch

import (
	"errors"
	"fmt"

	"github.com/chanwire/chanwire-go/pkg/wire"
)

// ErrMissingSubType is returned for a batch frame without a sub-type.
var ErrMissingSubType = errors.New("batch frame has no sub-type")

// Unwrapper expands envelope frames.
type Unwrapper struct {
	// Codec decodes opaque payloads. Nil means wire.JSON.
	Codec wire.Codec
}

func (u Unwrapper) codec() wire.Codec {
	if u.Codec == nil {
		return wire.JSON
	}
	return u.Codec
}

// Expand returns the frames f stands for.
//
// A batch frame yields one frame per payload, in order, each typed with
// the batch's sub-type and carrying the batch's correlation id. Any other
// frame yields itself. Batches nested in a batch are not expanded again.
func (u Unwrapper) Expand(f *wire.Frame) ([]*wire.Frame, error) {
	if f.Type != wire.TypeBatch {
		return []*wire.Frame{f}, nil
	}

	var batch wire.BatchPayload
	if err := wire.DecodePayload(u.codec(), f.Payload, &batch); err != nil {
		return nil, fmt.Errorf("batch %s: %w", f.CorrelationID, err)
	}
	if batch.Type == "" {
		return nil, ErrMissingSubType
	}

	frames := make([]*wire.Frame, len(batch.Payloads))
	for i, p := range batch.Payloads {
		frames[i] = &wire.Frame{
			Type:          batch.Type,
			CorrelationID: f.CorrelationID,
			Payload:       p,
		}
	}
	return frames, nil
}

// AppState extracts the channel identity and snapshot frames from a
// successful subscribed frame. ok is false for any other frame.
//
// Snapshot entries without a type are skipped.
func (u Unwrapper) AppState(f *wire.Frame) (ch wire.ChannelID, snapshot []*wire.Frame, ok bool, err error) {
	if !f.IsSubscribed() {
		return wire.ChannelID{}, nil, false, nil
	}

	var sp wire.SubscribedPayload
	if err := wire.DecodePayload(u.codec(), f.Payload, &sp); err != nil {
		return wire.ChannelID{}, nil, true, fmt.Errorf("subscribed payload: %w", err)
	}

	snapshot = make([]*wire.Frame, 0, len(sp.AppState))
	for _, entry := range sp.AppState {
		if entry == nil || entry.Validate() != nil {
			continue
		}
		snapshot = append(snapshot, entry)
	}
	return sp.Channel(), snapshot, true, nil
}
