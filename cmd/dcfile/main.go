package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/dcfile/internal/cli/receiver"
	"github.com/sheerbytes/dcfile/internal/cli/sender"
	"github.com/sheerbytes/dcfile/internal/config"
	"github.com/sheerbytes/dcfile/internal/termio"
)

const version = "v0.1.0"

func main() {
	termio.Init()
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	if hasVersionFlag(args[:1]) {
		fmt.Fprintln(termio.Stdout(), "dcfile", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "recv", "receive":
		err = receiver.Run(ctx, args[1:])
	case "send":
		err = sender.Run(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(termio.Stderr(), "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "dcfile %s: %v\n", args[0], err)
		if errors.Is(err, config.ErrInvalid) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: dcfile <command> [flags]")
	fmt.Fprintln(termio.Stderr(), "commands:")
	fmt.Fprintln(termio.Stderr(), "  recv  accept frame channels and save the files they carry")
	fmt.Fprintln(termio.Stderr(), "  send  send one file to a receiver")
	fmt.Fprintln(termio.Stderr(), "quick examples:")
	fmt.Fprintln(termio.Stderr(), "  dcfile recv -addr :8080 -out ./downloads")
	fmt.Fprintln(termio.Stderr(), "  dcfile send -target localhost:8080 photo.jpg")
	fmt.Fprintln(termio.Stderr(), "  dcfile recv -transport quic -addr :4433")
	fmt.Fprintln(termio.Stderr(), "  dcfile send -transport quic -target localhost:4433 photo.jpg")
	fmt.Fprintln(termio.Stderr(), "to learn detailed usage:")
	fmt.Fprintln(termio.Stderr(), "  dcfile recv -h")
	fmt.Fprintln(termio.Stderr(), "  dcfile send -h")
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" || arg == "version" {
			return true
		}
	}
	return false
}
