// Package interactive provides the command loop of chanwire-client.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/chanwire/chanwire-go/pkg/connection"
	"github.com/chanwire/chanwire-go/pkg/correlator"
	"github.com/chanwire/chanwire-go/pkg/dispatch"
	"github.com/chanwire/chanwire-go/pkg/subscription"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// Client handles interactive mode for chanwire-client.
type Client struct {
	rl        *readline.Instance
	closeOnce sync.Once

	out   io.Writer
	conn  *connection.Conn
	codec wire.Codec

	mu      sync.Mutex
	handles map[string][]*subscription.Handle
	watches map[string]dispatch.HandlerID
}

// New creates the readline instance. Call Attach before Run.
func New() (*Client, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "chanwire> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newClient(rl.Stdout())
	c.rl = rl
	return c, nil
}

func newClient(out io.Writer) *Client {
	return &Client{
		out:     out,
		handles: make(map[string][]*subscription.Handle),
		watches: make(map[string]dispatch.HandlerID),
	}
}

// Attach sets the connection the commands operate on.
func (c *Client) Attach(conn *connection.Conn, codec wire.Codec) {
	c.conn = conn
	c.codec = codec
	conn.OnSubscribedChanged(func(ev subscription.Event) {
		fmt.Fprintf(c.out, "[channel] %s\n", ev)
	})
}

// Stdout returns a writer that properly coordinates with the readline input.
func (c *Client) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Client) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Close releases the terminal.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.rl.Close() })
	return err
}

// Run starts the interactive command loop.
func (c *Client) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.Close()

	c.printHelp(c.rl.Stdout())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		if c.Execute(ctx, line, c.rl.Stdout()) {
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and writes its output to out.
// It returns true when the user asked to quit.
func (c *Client) Execute(ctx context.Context, line string, out io.Writer) bool {
	cmd, args, rest := splitCommand(line)
	if cmd == "" {
		return false
	}

	switch cmd {
	case "help", "?":
		c.printHelp(out)
	case "state", "s":
		c.cmdState(out)
	case "connect":
		c.cmdConnect(ctx, out)
	case "close":
		c.cmdClose(out)
	case "call", "c":
		c.cmdCall(out, args, rest)
	case "send":
		c.cmdSend(out, args, rest)
	case "subscribe", "sub":
		c.cmdSubscribe(out, args)
	case "leave":
		c.cmdLeave(out, args)
	case "channels", "ch":
		c.cmdChannels(out)
	case "watch":
		c.cmdWatch(out, args)
	case "unwatch":
		c.cmdUnwatch(out, args)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Client) printHelp(out io.Writer) {
	fmt.Fprintln(out, `
chanwire Client Commands:
  Connection:
    state                             - Show connection state
    connect                           - Open the connection
    close                             - Close the connection

  Messages:
    call <type> [json] [timeout=<d>]  - Send a request and print the response
    send <type> [json]                - Send a fire-and-forget message
    watch <namespace>                 - Print frames of a namespace
    unwatch <namespace>               - Stop printing a namespace

  Channels:
    subscribe <type> <pk>             - Subscribe to a channel
    leave <type> <pk> [delay]         - Release one subscription
    channels                          - List subscribed channels

  General:
    help                              - Show this help
    quit                              - Exit`)
}

func (c *Client) cmdState(out io.Writer) {
	fmt.Fprintf(out, "State:       %s\n", c.conn.ReadyState())
	if id := c.conn.ConnectionID(); id != "" {
		fmt.Fprintf(out, "Connection:  %s\n", id)
	}
	fmt.Fprintf(out, "Pending:     %d call(s)\n", c.conn.PendingCalls())
}

func (c *Client) cmdConnect(ctx context.Context, out io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := c.conn.Connect(ctx); err != nil {
		fmt.Fprintf(out, "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Connected")
}

func (c *Client) cmdClose(out io.Writer) {
	if err := c.conn.Close(); err != nil {
		fmt.Fprintf(out, "Close failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Closed")
}

func (c *Client) cmdCall(out io.Writer, args []string, rest string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: call <type> [json] [timeout=<d>]")
		return
	}

	var opts []correlator.CallOption
	body := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	if i := strings.LastIndex(body, "timeout="); i >= 0 && !strings.ContainsAny(body[i:], " \t}]") {
		d, err := time.ParseDuration(body[i+len("timeout="):])
		if err != nil {
			fmt.Fprintf(out, "Invalid timeout: %v\n", err)
			return
		}
		opts = append(opts, correlator.WithTimeout(d))
		body = strings.TrimSpace(body[:i])
	}

	payload, err := parsePayload(body)
	if err != nil {
		fmt.Fprintf(out, "Invalid payload: %v\n", err)
		return
	}

	typ := args[0]
	d, err := c.conn.Call(typ, payload, opts...)
	if err != nil {
		fmt.Fprintf(out, "Call failed: %v\n", err)
		return
	}
	d.OnProgress(func(update any) {
		fmt.Fprintf(out, "[%s] progress %s\n", typ, formatPayload(update))
	}).Then(func(f *wire.Frame) {
		fmt.Fprintf(out, "[%s] %s\n", typ, formatFrame(f))
	}, func(err error) {
		fmt.Fprintf(out, "[%s] failed: %v\n", typ, err)
	})
}

func (c *Client) cmdSend(out io.Writer, args []string, rest string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: send <type> [json]")
		return
	}
	payload, err := parsePayload(strings.TrimSpace(strings.TrimPrefix(rest, args[0])))
	if err != nil {
		fmt.Fprintf(out, "Invalid payload: %v\n", err)
		return
	}
	if err := c.conn.Send(args[0], payload); err != nil {
		fmt.Fprintf(out, "Send failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Sent")
}

func (c *Client) cmdSubscribe(out io.Writer, args []string) {
	ch, ok := parseChannel(out, "subscribe", args)
	if !ok {
		return
	}

	c.watch(ch.Type, out)
	h := c.conn.Subscribe(ch.Type, ch.PK)

	c.mu.Lock()
	c.handles[ch.Key()] = append(c.handles[ch.Key()], h)
	n := len(c.handles[ch.Key()])
	c.mu.Unlock()

	fmt.Fprintf(out, "Subscribing to %s (%d local subscriber(s))\n", ch, n)
	h.Done().Then(nil, func(err error) {
		fmt.Fprintf(out, "[%s] subscribe failed: %v\n", ch, err)
	})
}

func (c *Client) cmdLeave(out io.Writer, args []string) {
	ch, ok := parseChannel(out, "leave", args)
	if !ok {
		return
	}

	var delay []time.Duration
	if len(args) > 2 {
		d, err := time.ParseDuration(args[2])
		if err != nil {
			fmt.Fprintf(out, "Invalid delay: %v\n", err)
			return
		}
		delay = append(delay, d)
	}

	c.mu.Lock()
	handles := c.handles[ch.Key()]
	if len(handles) == 0 {
		c.mu.Unlock()
		fmt.Fprintf(out, "Not subscribed to %s\n", ch)
		return
	}
	h := handles[len(handles)-1]
	if len(handles) == 1 {
		delete(c.handles, ch.Key())
	} else {
		c.handles[ch.Key()] = handles[:len(handles)-1]
	}
	c.mu.Unlock()

	h.Leave(delay...)
	fmt.Fprintf(out, "Left %s\n", ch)
}

func (c *Client) cmdChannels(out io.Writer) {
	var keys []string
	for ch := range c.conn.SubscribedChannels() {
		keys = append(keys, ch.Key())
	}
	if len(keys) == 0 {
		fmt.Fprintln(out, "No subscribed channels")
		return
	}
	slices.Sort(keys)

	fmt.Fprintf(out, "Subscribed channels (%d):\n", len(keys))
	for _, k := range keys {
		c.mu.Lock()
		n := len(c.handles[k])
		c.mu.Unlock()
		fmt.Fprintf(out, "  %-30s %d local subscriber(s)\n", k, n)
	}
}

func (c *Client) cmdWatch(out io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: watch <namespace>")
		return
	}
	if c.watch(args[0], out) {
		fmt.Fprintf(out, "Watching %s\n", wire.Namespace(args[0]))
	}
}

func (c *Client) cmdUnwatch(out io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: unwatch <namespace>")
		return
	}
	ns := wire.Namespace(args[0])

	c.mu.Lock()
	id, ok := c.watches[ns]
	delete(c.watches, ns)
	c.mu.Unlock()

	if !ok {
		fmt.Fprintf(out, "Not watching %s\n", ns)
		return
	}
	c.conn.RemoveHandler(id)
	fmt.Fprintf(out, "Stopped watching %s\n", ns)
}

// watch prints every frame of typ's namespace to out. It returns false
// if the namespace was already watched.
func (c *Client) watch(typ string, out io.Writer) bool {
	ns := wire.Namespace(typ)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watches[ns]; ok {
		return false
	}
	c.watches[ns] = c.conn.AddTypeHandler(ns, dispatch.HandlerFunc(func(f *wire.Frame) {
		fmt.Fprintf(out, "<- %s\n", formatFrame(f))
	}))
	return true
}

// splitCommand returns the lower-cased command, its whitespace separated
// arguments and the raw text after the command.
func splitCommand(line string) (cmd string, args []string, rest string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, ""
	}
	fields := strings.Fields(line)
	cmd = strings.ToLower(fields[0])
	rest = strings.TrimSpace(line[len(fields[0]):])
	return cmd, fields[1:], rest
}

func parseChannel(out io.Writer, cmd string, args []string) (wire.ChannelID, bool) {
	if len(args) < 2 {
		fmt.Fprintf(out, "Usage: %s <type> <pk>\n", cmd)
		return wire.ChannelID{}, false
	}
	pk, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(out, "Invalid pk: %s\n", args[1])
		return wire.ChannelID{}, false
	}
	return wire.ChannelID{Type: args[0], PK: pk}, true
}

// parsePayload decodes a JSON payload typed by the user. Empty input is a
// nil payload.
func parsePayload(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func formatFrame(f *wire.Frame) string {
	var b strings.Builder
	b.WriteString(f.Type)
	if f.CorrelationID != "" {
		fmt.Fprintf(&b, " id=%s", f.CorrelationID)
	}
	if f.State != wire.StateNone {
		fmt.Fprintf(&b, " state=%s", f.State)
	}
	if f.Payload != nil {
		b.WriteString(" ")
		b.WriteString(formatPayload(f.Payload))
	}
	return b.String()
}

func formatPayload(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
