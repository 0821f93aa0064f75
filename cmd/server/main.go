package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server"
	"github.com/dmitrijs2005/bhopmaps/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.New(logging.Options{Backend: cfg.LogBackend, Level: cfg.LogLevel})

	app, err := server.NewApp(ctx, cfg, logger)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
