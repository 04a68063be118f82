package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crowdvault/config"
	"crowdvault/core/events"
	"crowdvault/core/state"
	"crowdvault/core/types"
	"crowdvault/gateway/middleware"
	"crowdvault/gateway/routes"
	"crowdvault/integrations/webhooks"
	"crowdvault/native/crowdfund"
	"crowdvault/observability/logging"
	"crowdvault/rpc"
	"crowdvault/storage"
)

const rpcRateLimitKey = "rpc"

// eventLogger forwards engine events to the structured log so operators see
// every donation, release and refund without a separate indexer.
type eventLogger struct {
	log *slog.Logger
}

type payloadEvent interface {
	Event() *types.Event
}

func (l eventLogger) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{"event", evt.EventType()}
	if carrier, ok := evt.(payloadEvent); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, key, value)
			}
		}
	}
	l.log.Info("engine event", attrs...)
}

// fanoutEmitter broadcasts each engine event to every configured sink.
type fanoutEmitter []events.Emitter

func (f fanoutEmitter) Emit(evt events.Event) {
	for _, emitter := range f {
		emitter.Emit(evt)
	}
}

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := logging.Setup("crowdvaultd", cfg.Env)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "path", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	engine := crowdfund.NewEngine()
	engine.SetState(manager)
	engine.SetRefundDisputeGate(cfg.RefundDisputeGate)

	emitters := fanoutEmitter{eventLogger{log: logger}}
	if cfg.WebhookURL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.WebhookURL, []byte(cfg.WebhookSecret))
		if err != nil {
			logger.Error("webhook dispatcher", "err", err)
			os.Exit(1)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher.Emitter())
	}
	engine.SetEmitter(emitters)

	rpcServer := rpc.NewServer(engine, manager)

	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		rpcRateLimitKey: {
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		},
	}, logger)

	router := routes.New(routes.Config{
		RPCHandler:   rpcServer,
		State:        manager,
		RateLimiter:  limiter,
		RateLimitKey: rpcRateLimitKey,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
