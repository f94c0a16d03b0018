// Package main starts the social graph service process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	socialcmd "github.com/louisbranch/bliss/internal/cmd/social"
)

func main() {
	log.SetPrefix("[SOCIAL] ")
	cfg, err := socialcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := socialcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("social service stopped: %v", err)
	}
}
