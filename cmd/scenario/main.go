// Command scenario runs Lua scripts against the todo reference app. It exits
// 1 when an expectation fails and 2 on any other error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	scenariocmd "github.com/louisbranch/dizzy/internal/cmd/scenario"
	"github.com/louisbranch/dizzy/internal/platform/config"
	"github.com/louisbranch/dizzy/internal/tools/scenario"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: scenario [flags] script.lua...")
		flag.PrintDefaults()
	}
	cfg, err := scenariocmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}
	log.SetPrefix("[SCENARIO] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = scenariocmd.Run(ctx, cfg, os.Stdout, os.Stderr)
	stop()
	if err == nil {
		return
	}
	log.Printf("FAIL %v", err)
	if errors.Is(err, scenario.ErrAssertionFailed) {
		os.Exit(1)
	}
	os.Exit(2)
}
