package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chanwire/chanwire-go/pkg/log"
)

var baseTime = time.Date(2026, 3, 9, 14, 2, 11, 250000000, time.UTC)

func writeCapture(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.log")

	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	require.Zero(t, logger.Dropped())
	return path
}

func at(offset time.Duration, ev log.Event) log.Event {
	ev.Timestamp = baseTime.Add(offset)
	return ev
}

func request(conn, typ, id string) log.Event {
	return log.Event{
		ConnectionID: conn,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Kind:          log.MessageKindRequest,
			Type:          typ,
			CorrelationID: id,
			Payload:       map[string]any{"name": "x"},
		},
	}
}

func response(conn, typ, id, state string) log.Event {
	kind := log.MessageKindResponse
	if state == "q" || state == "r" {
		kind = log.MessageKindProgress
	}
	return log.Event{
		ConnectionID: conn,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Kind:          kind,
			Type:          typ,
			CorrelationID: id,
			State:         state,
		},
	}
}

func subscribed(conn, channel string) log.Event {
	return log.Event{
		ConnectionID: conn,
		Layer:        log.LayerChannel,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			NewState: "subscribed",
			Channel:  channel,
		},
	}
}

func transportError(conn string) log.Event {
	return log.Event{
		ConnectionID: conn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: "connection reset by peer",
			Context: "read frame",
		},
	}
}
