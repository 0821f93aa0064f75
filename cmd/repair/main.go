// Command repair reconciles the map metadata with the object store: it
// reports packages without a record and records without a package, and
// deletes the former unless -n/-dry-run is given. The report is printed
// as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/dmitrijs2005/bhopmaps/internal/flagx"
	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server"
	"github.com/dmitrijs2005/bhopmaps/internal/server/config"
)

func main() {
	var dryRun bool
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	fs.BoolVar(&dryRun, "dry-run", false, "report only, delete nothing")
	fs.BoolVar(&dryRun, "n", false, "report only, delete nothing (short)")
	_ = fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-n", "-dry-run"}))

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.New(logging.Options{Backend: cfg.LogBackend, Level: cfg.LogLevel, Output: os.Stderr})

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	report, err := app.Repair(ctx, dryRun)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			log.Printf("%v", encErr)
		}
	}
	if err != nil {
		logger.Error(ctx, "repair finished with errors", "error", err)
		app.Close()
		os.Exit(1)
	}
}
