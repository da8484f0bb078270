// Command docflowd runs the docflow daemon in the foreground.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"docflow/internal/config"
	"docflow/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	logLevel := flag.String("log-level", "", "Override configured log level")
	skipPreflight := flag.Bool("skip-preflight", false, "Skip startup preflight checks")
	flag.Parse()

	cfg, path, exists, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !exists {
		fmt.Fprintf(os.Stderr, "config file %s not found; using defaults\n", path)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel:      *logLevel,
		SkipPreflight: *skipPreflight,
	}); err != nil {
		log.Fatalf("docflowd: %v", err)
	}
}
