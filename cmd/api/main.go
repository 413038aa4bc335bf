package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/joho/godotenv"
	zLog "github.com/rs/zerolog/log"

	chainactor "go-quizagent/internal/agents/chain/actor"
	chainhandler "go-quizagent/internal/agents/chain/handler"
	"go-quizagent/internal/api"
	"go-quizagent/pkg/backend"
	"go-quizagent/pkg/config"
	"go-quizagent/pkg/events"
	"go-quizagent/pkg/logger"
	"go-quizagent/pkg/tools"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	log.Println("starting server")
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Panicf("failed to load config: %v", err)
	}
	if err := logger.NewGlobal(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		log.Panicf("failed to initialize logger: %v", err)
	}

	zLog.Info().
		Str("email", cfg.Email).
		Bool("secret_set", cfg.Secret != "").
		Str("primary", cfg.Backend.Primary.Provider+"/"+cfg.Backend.Primary.Model).
		Str("fallback", cfg.Backend.Fallback.Provider+"/"+cfg.Backend.Fallback.Model).
		Str("address", cfg.Addr()).
		Msg("configuration loaded")
	if cfg.Secret == "" {
		zLog.Warn().Msg("SECRET is not set, /solve will refuse requests")
	}

	// chains outlive the request that started them but not the process
	chainCtx, cancelChains := context.WithCancel(context.Background())
	defer cancelChains()

	primary, err := backend.New(chainCtx, cfg.Backend.Primary)
	if err != nil {
		zLog.Panic().Err(err).Msg("primary model")
	}
	fallback, err := backend.New(chainCtx, cfg.Backend.Fallback)
	if err != nil {
		if !errors.Is(err, backend.ErrDisabled) {
			zLog.Warn().Err(err).Msg("fallback model unavailable, continuing without it")
		}
		fallback = nil
	}
	if fallback != nil {
		fallback = backend.NewPaced(fallback, cfg.Backend.RequestsPerMinute)
	}

	if err := os.MkdirAll(cfg.Tools.Workspace, 0o755); err != nil {
		zLog.Panic().Err(err).Str("workspace", cfg.Tools.Workspace).Msg("unable to create workspace")
	}

	hub := events.NewHub()
	chains := chainhandler.New(chainhandler.Options{
		Config:      cfg,
		Primary:     backend.NewPaced(primary, cfg.Backend.RequestsPerMinute),
		Fallback:    fallback,
		Limiter:     tools.NewSlidingWindow(cfg.Tools.SubmitLimit, cfg.Tools.SubmitWindow),
		Renderer:    tools.NewRenderer(cfg.Tools),
		Transcriber: tools.NewTranscriber(cfg.Tools),
		Hub:         hub,
	})

	system := actor.NewActorSystem().Root
	app := api.New(api.Options{
		Address: cfg.Addr(),
		Secret:  cfg.Secret,
		Root:    system,
		Chain:   actor.PropsFromProducer(chainactor.New(chainCtx, chains)),
		Hub:     hub,

		OriginPatterns: cfg.Listen.OriginPatterns,
	})

	go func() {
		err := app.Start()
		if err != nil {
			zLog.Panic().Err(err).Msg("server crash")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	stop()
	zLog.Info().Msg("shutting down gracefully")
	cancelChains()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		zLog.Panic().Err(err).Msg("server forced to shutdown")
	}

	zLog.Info().Msg("server exiting")
}
