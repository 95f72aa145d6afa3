package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"stagectl/lib/api"
	"stagectl/lib/config"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to stagectl.yml (defaults apply when empty)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg := config.Default()
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
	}
	setupLogging(cfg.Log)

	defer midi.CloseDriver()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := newConsole(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("start console")
	}

	srv := api.NewServer(api.Deps{
		Router:     c.router,
		Live:       c.live,
		Dispatcher: c.dispatcher,
		Store:      c.repo,
		Hub:        c.hub,
	}, api.Options{
		StaticDir:   cfg.API.StaticDir,
		CORSOrigins: cfg.API.CORSOrigins,
	})
	go func() {
		if err := srv.ListenAndServe(cfg.API.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http api")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	cancel()
	c.Close()
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
