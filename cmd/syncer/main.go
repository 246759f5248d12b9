package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"example.com/webinar-sync/internal/api"
	"example.com/webinar-sync/internal/app"
	"example.com/webinar-sync/internal/config"
	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()
	logging.Info().Str("driver", cfg.Database.Driver).Msg("store ready")

	qclient, err := a.Queue()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open job queue")
	}
	defer qclient.Close()

	wk := worker.NewWorker(a.Store, a.Dispatcher, qclient, cfg.RabbitMQ.Workers)
	wk.Start(ctx)

	h := api.NewHandler(a.Store, a.Dispatcher, qclient)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.Router(),
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")
	ctxSh, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctxSh); err != nil {
		logging.Warn().Err(err).Msg("http shutdown")
	}
	wk.Wait()
}
