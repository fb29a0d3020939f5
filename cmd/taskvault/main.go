package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taskvault/internal/command"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := command.BuildApp(command.DefaultDeps())
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("taskvault failed")
		os.Exit(1)
	}
}
