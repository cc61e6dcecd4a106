// Package main hosts the AWS Lambda entrypoint. Events are {"url": ...},
// {"urls": [...]} or SQS batches whose message bodies use either shape.
// Configuration comes from ARCHIVER_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/JakeFAU/page-archiver/internal/config"
	"github.com/JakeFAU/page-archiver/internal/invoke"
	"github.com/JakeFAU/page-archiver/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("ARCHIVER_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build application failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = app.Close(ctx) }()

	invoke.New(app.Batch(), app.Logger()).Start()
}
