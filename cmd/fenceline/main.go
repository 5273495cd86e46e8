package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/logtrace"
	"github.com/fenceline/fenceline/internal/guardsrv/audit"
	"github.com/fenceline/fenceline/internal/guardsrv/auth/keymanager"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/server"
)

func init() {
	logtrace.InitLogger()
}

type cmdoptions struct {
	configFile string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	slog := log.With().Str("state", "init").Logger()

	opt := parseFlags()

	slog.Info().Str("config_file", opt.configFile).Msg("loading config file")
	if err := config.LoadConfig(opt.configFile); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	if config.Config().ServerPort == "" {
		return fmt.Errorf("server port not defined")
	}

	db.Init()

	auditClose, err := initAudit(ctx)
	if err != nil {
		return fmt.Errorf("initializing audit trail: %w", err)
	}
	defer auditClose()

	serverErrors, shutdownServer, err := createGuardServer(ctx)
	if err != nil {
		return fmt.Errorf("creating guard server: %w", err)
	}

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		shutdownServer()
	}

	slog.Info().Msg("server stopped")
	return nil
}

// initAudit wires the audit emitter: structured log events always, plus
// the tamper-evident hash-chained trail signed with the server's active
// key.
func initAudit(ctx context.Context) (func(), error) {
	cfg := config.Config().Audit

	sinks := []audit.Sink{audit.NewLogSink()}

	signingKey, err := keymanager.GetKeyManager().GetActiveKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting active signing key: %w", err)
	}
	trailPath := filepath.Join(cfg.Path, "audit-trail.jsonl")
	hashSink, goerr := audit.NewHashSink(trailPath, cfg.FlushInterval, signingKey.PrivateKey)
	if goerr != nil {
		return nil, fmt.Errorf("opening audit trail %s: %w", trailPath, goerr)
	}
	sinks = append(sinks, hashSink)

	audit.Init(audit.NewEmitter(cfg.BufferSize, sinks...))
	return func() {
		audit.Close()
		if err := hashSink.Close(); err != nil {
			log.Error().Err(err).Msg("closing audit trail")
		}
	}, nil
}

func createGuardServer(ctx context.Context) (chan error, func(), error) {
	slog := log.With().Str("state", "init").Logger()
	s, err := server.CreateNewServer()
	if err != nil {
		return nil, nil, fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              ":" + config.Config().ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info().Str("port", config.Config().ServerPort).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := func() {
		// Give outstanding requests 5 seconds to complete.
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error().Err(err).Msg("could not stop server gracefully")
			if err := srv.Close(); err != nil {
				slog.Error().Err(err).Msg("could not stop server")
			}
		}
	}

	return serverErrors, shutdown, nil
}

const DefaultConfigFile = "/etc/fenceline/fencelinesrv.conf"

func parseFlags() cmdoptions {
	var opt cmdoptions
	flag.StringVar(&opt.configFile, "config", DefaultConfigFile, "Path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt
}
