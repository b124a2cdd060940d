package commands

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"time"

	"github.com/chanwire/chanwire-go/pkg/log"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Namespaces        map[string]int
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Endpoint  string
	Requests  int
	Failures  int

	// Channels counts subscribe transitions per channel key.
	Channels map[string]int

	pending map[string]time.Time
	Latency []time.Duration
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Namespaces:        make(map[string]int),
		Connections:       make(map[string]*ConnectionStats),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			Channels:  make(map[string]int),
			pending:   make(map[string]time.Time),
		}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if conn.Endpoint == "" {
		conn.Endpoint = event.Endpoint
	}

	switch {
	case event.Message != nil:
		s.Namespaces[wire.Namespace(event.Message.Type)]++
		conn.addMessage(event)
	case event.StateChange != nil && event.StateChange.Channel != "":
		conn.Channels[event.StateChange.Channel]++
	case event.Error != nil:
		s.Errors++
	}
}

// addMessage pairs outgoing requests with their terminal responses.
func (c *ConnectionStats) addMessage(event log.Event) {
	msg := event.Message
	switch msg.Kind {
	case log.MessageKindRequest:
		if event.Direction == log.DirectionOut {
			c.Requests++
			c.pending[msg.CorrelationID] = event.Timestamp
		}
	case log.MessageKindResponse:
		if wire.State(msg.State) == wire.StateFailed {
			c.Failures++
		}
		if sent, ok := c.pending[msg.CorrelationID]; ok {
			c.Latency = append(c.Latency, event.Timestamp.Sub(sent))
			delete(c.pending, msg.CorrelationID)
		}
	}
}

// Unanswered returns the number of requests without a terminal response.
func (c *ConnectionStats) Unanswered() int {
	return len(c.pending)
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== chanwire Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerChannel} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryHeartbeat, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Namespaces) > 0 {
		fmt.Fprintln(w, "Messages by Namespace:")
		names := make([]string, 0, len(stats.Namespaces))
		for ns := range stats.Namespaces {
			names = append(names, ns)
		}
		slices.Sort(names)
		for _, ns := range names {
			fmt.Fprintf(w, "  %-12s %d\n", ns+":", stats.Namespaces[ns])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
			if c.stats.Endpoint != "" {
				fmt.Fprintf(w, "           Endpoint: %s\n", c.stats.Endpoint)
			}
			if c.stats.Requests > 0 {
				fmt.Fprintf(w, "           Requests: %d (failed: %d, unanswered: %d)\n",
					c.stats.Requests, c.stats.Failures, c.stats.Unanswered())
			}
			if len(c.stats.Latency) > 0 {
				lat := slices.Clone(c.stats.Latency)
				slices.Sort(lat)
				fmt.Fprintf(w, "           Latency: median %s, max %s\n",
					formatDuration(lat[len(lat)/2]), formatDuration(lat[len(lat)-1]))
			}
			if len(c.stats.Channels) > 0 {
				fmt.Fprintf(w, "           Channels: %d\n", len(c.stats.Channels))
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
