package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flowsend/flowsend/internal/bot"
	"github.com/flowsend/flowsend/internal/db"
	"github.com/flowsend/flowsend/internal/ledger"
	"github.com/flowsend/flowsend/internal/logger"
	"github.com/flowsend/flowsend/internal/metrics"
	"github.com/flowsend/flowsend/internal/repository/postgres"
	"github.com/flowsend/flowsend/internal/service/pendingbatch"
	"github.com/flowsend/flowsend/internal/service/tipping"
)

type App struct {
	OpsAddr string

	bot     *bot.Bot
	pending *pendingbatch.Store
	logger  logger.Logger
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	metrics.Init()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	client, err := ledger.NewClient(ledger.Config{
		APIKey:   c.DripAPIKey,
		RealmID:  c.RealmID,
		PointsID: c.PointsID,
		BaseURL:  c.LedgerBaseURL,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating ledger client. Err: %w", err)
	}

	pending := pendingbatch.NewStore(pendingbatch.DefaultTTL, l)
	tipService := tipping.NewService(client, storage, pending, l)

	// Initialize the bot itself
	b, err := bot.New(bot.Config{
		Token:     c.DiscordToken,
		BotName:   c.BotName,
		PointName: c.PointName,
	}, tipService, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating bot. Err: %w", err)
	}

	return &App{
		OpsAddr: c.OpsAddr,
		bot:     b,
		pending: pending,
		logger:  l,
	}, nil
}

// Run opens the Discord session and serves ops endpoints until the context
// is cancelled, then closes everything gracefully
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	janitorStopped := a.pending.Janitor(ctx)
	opsStopped := a.runOpsServer(ctx)

	// Blocks until the context is cancelled or the session fails to open
	err := a.bot.Run(ctx)
	cancel()

	<-opsStopped
	<-janitorStopped

	return err
}

// runOpsServer serves healthz and metrics, closes gracefully on context
// cancellation. Returned channel is closed when the server is stopped.
func (a *App) runOpsServer(ctx context.Context) <-chan struct{} {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:    a.OpsAddr,
		Handler: mux,
	}

	idleConnsClosed := make(chan struct{})

	go func() {
		<-ctx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			a.logger.Error("Ops server shutdown timeout exceeded, forcing shutdown...")
		}
		a.logger.Info("Ops server stopped")
		close(idleConnsClosed)
	}()

	go func() {
		a.logger.Info("Starting ops server", "addr", a.OpsAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Ops server error", "error", err.Error())
		}
	}()

	return idleConnsClosed
}
