// Package main submits todo commands through the dispatch loop and inspects
// the event journal.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/dizzy/internal/platform/config"

	dizzycmd "github.com/louisbranch/dizzy/internal/cmd/dizzy"
)

func main() {
	cfg, err := dizzycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}
	log.SetPrefix("[DIZZY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dizzycmd.Run(ctx, cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}
