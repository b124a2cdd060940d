// Command chanwire-log inspects protocol capture files.
//
// Capture files are written by chanwire-client with the -capture flag.
//
// Usage:
//
//	chanwire-log <command> [flags] <capture file>
//
// Commands:
//
//	view     Print events in human-readable form
//	export   Export events as JSON lines or CSV
//	filter   Copy matching events into a new capture file
//	stats    Summarize traffic per layer, namespace and connection
//
// Examples:
//
//	# Only outgoing wire-layer frames
//	chanwire-log view -layer wire -direction out session.log
//
//	# Subscription changes for a single channel
//	chanwire-log filter -channel ticker/BTC -o ticker.log session.log
//
//	# Request counts and latencies
//	chanwire-log stats session.log
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chanwire/chanwire-go/cmd/chanwire-log/commands"
)

const usage = `chanwire-log - chanwire protocol capture analyzer

Usage:
  chanwire-log <command> [flags] <capture file>

Commands:
  view     Print events in human-readable form
  export   Export events as JSON lines or CSV
  filter   Copy matching events into a new capture file
  stats    Summarize traffic per layer, namespace and connection

Use "chanwire-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "chanwire-log %s - %s\n\nUsage:\n  chanwire-log %s [flags] <capture file>\n\nFlags:\n",
			name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

// parsePath parses args and returns the single positional capture path.
func parsePath(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", fmt.Errorf("capture file path required")
	}
	return fs.Arg(0), nil
}

func runView(args []string) error {
	fs := newFlagSet("view", "Print events in human-readable form")
	var opts commands.FilterOptions
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, channel)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, heartbeat, state, error)")
	fs.StringVar(&opts.Namespace, "namespace", "", "Filter messages by type namespace")

	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}

	filter, err := opts.Filter()
	if err != nil {
		return err
	}
	return commands.RunView(path, commands.ViewFilter{
		Layer:     filter.Layer,
		Direction: filter.Direction,
		Category:  filter.Category,
		Namespace: filter.Namespace,
	}, os.Stdout)
}

func runExport(args []string) error {
	fs := newFlagSet("export", "Export events as JSON lines or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output)
}

func runFilter(args []string) error {
	fs := newFlagSet("filter", "Copy matching events into a new capture file")
	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.Namespace, "namespace", "", "Filter messages by type namespace")
	fs.StringVar(&opts.Channel, "channel", "", "Filter subscription changes by channel key (type/pk)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, channel)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, heartbeat, state, error)")

	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}
	return commands.RunFilter(path, opts, os.Stdout)
}

func runStats(args []string) error {
	fs := newFlagSet("stats", "Summarize traffic per layer, namespace and connection")
	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
