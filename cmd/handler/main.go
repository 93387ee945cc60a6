package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openbank/command-handler/internal/bus"
	"github.com/openbank/command-handler/internal/config"
	"github.com/openbank/command-handler/internal/service"
	"github.com/openbank/command-handler/internal/store"
)

const (
	emitterBuffer  = 256
	restartBackoff = 2 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger, err := store.New(ctx, cfg.DBSource)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer ledger.Close()
	log.Info().Msg("connected to postgres")

	conn, err := amqp.DialConfig(cfg.AmqpURL, amqp.Config{
		Properties: amqp.Table{"connection_name": "command-handler"},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to rabbitmq")
	}
	defer conn.Close()
	log.Info().Msg("connected to rabbitmq")

	emitter := bus.NewEmitter(conn, emitterBuffer, log.Logger)

	creations := bus.NewConsumer(conn,
		bus.TopicConfirmAccountCreation,
		cfg.Workers,
		bus.NewCreationHandler(service.NewCreation(ledger, log.Logger), log.Logger),
		emitter,
		log.Logger,
	)
	transfers := bus.NewConsumer(conn,
		bus.TopicConfirmMoneyTransfer,
		cfg.Workers,
		bus.NewTransferHandler(service.NewTransfer(ledger, log.Logger), log.Logger),
		emitter,
		log.Logger,
	)

	fatal := make(chan error, 3)

	// Emission failures are fatal to the whole process; a supervisor restart
	// is the recovery path.
	go func() {
		if err := emitter.Run(ctx); err != nil && ctx.Err() == nil {
			fatal <- err
		}
	}()

	// Consumer failures are fatal only to their worker loop; restart in place.
	go supervise(ctx, "account_creation", creations.Run)
	go supervise(ctx, "money_transfer", transfers.Run)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: r}
	go func() {
		log.Info().Str("port", cfg.MetricsPort).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-fatal:
		cancel()
		ledger.Close()
		conn.Close()
		log.Fatal().Err(err).Msg("fatal failure")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown failed")
	}
}

// supervise restarts run after logging its error, keeping failures fatal to
// the worker loop but not to the process.
func supervise(ctx context.Context, name string, run func(context.Context) error) {
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("worker", name).Msg("worker stopped, restarting")
		select {
		case <-time.After(restartBackoff):
		case <-ctx.Done():
			return
		}
	}
}
