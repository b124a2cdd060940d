package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelID identifies a subscribable channel.
type ChannelID struct {
	Type string
	PK   int64
}

// Key returns the stable map key "{type}/{pk}".
func (c ChannelID) Key() string {
	return c.Type + "/" + strconv.FormatInt(c.PK, 10)
}

// String implements fmt.Stringer.
func (c ChannelID) String() string {
	return c.Key()
}

// ParseChannelID parses the "{type}/{pk}" form produced by Key.
func ParseChannelID(s string) (ChannelID, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return ChannelID{}, fmt.Errorf("invalid channel %q: want type/pk", s)
	}
	pk, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return ChannelID{}, fmt.Errorf("invalid channel %q: %w", s, err)
	}
	return ChannelID{Type: s[:i], PK: pk}, nil
}

// SubscribePayload is the payload of channel.subscribe and channel.leave.
type SubscribePayload struct {
	ChannelType string `json:"channel_type" cbor:"channel_type"`
	PK          int64  `json:"pk" cbor:"pk"`
}

// NewSubscribePayload builds the subscribe/leave payload for a channel.
func NewSubscribePayload(ch ChannelID) *SubscribePayload {
	return &SubscribePayload{ChannelType: ch.Type, PK: ch.PK}
}

// SubscribedPayload is the payload of a successful subscribe acknowledgement.
type SubscribedPayload struct {
	ChannelType string   `json:"channel_type" cbor:"channel_type"`
	ChannelName string   `json:"channel_name,omitempty" cbor:"channel_name,omitempty"`
	PK          int64    `json:"pk" cbor:"pk"`
	AppState    []*Frame `json:"app_state" cbor:"app_state"`
}

// Channel returns the acknowledged channel identity.
func (p *SubscribedPayload) Channel() ChannelID {
	return ChannelID{Type: p.ChannelType, PK: p.PK}
}

// BatchPayload is the payload of an s.batch frame.
type BatchPayload struct {
	Type     string `json:"t" cbor:"t"`
	Payloads []any  `json:"payloads" cbor:"payloads"`
}

// FailurePayload is the payload of a failed response.
// A decoded errors list, even an empty one, marks a validation failure;
// an absent or null errors field marks a generic failure.
type FailurePayload struct {
	Message string       `json:"msg" cbor:"msg"`
	Errors  []FieldError `json:"errors,omitempty" cbor:"errors,omitempty"`
}

// FieldError is one field-level validation error.
type FieldError struct {
	Loc     []string `json:"loc" cbor:"loc"`
	Message string   `json:"msg" cbor:"msg"`
	Type    string   `json:"type,omitempty" cbor:"type,omitempty"`
}

// Location returns the dotted field location ("body.name").
func (e FieldError) Location() string {
	return strings.Join(e.Loc, ".")
}
