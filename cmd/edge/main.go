// Package main starts the edge offline cache proxy.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	edgecmd "github.com/louisbranch/folio/internal/cmd/edge"
	"github.com/louisbranch/folio/internal/platform/config"
)

func main() {
	cfg, err := edgecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[EDGE] ")
	if cfg.IssueAdminToken != "" {
		if err := edgecmd.WriteAdminToken(os.Stdout, cfg, time.Now()); err != nil {
			log.Fatalf("issue admin token: %v", err)
		}
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := edgecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
