package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/PratikDhanave/shotlog/internal/config"
	"github.com/PratikDhanave/shotlog/internal/httpserver"
	"github.com/PratikDhanave/shotlog/internal/hub"
	"github.com/PratikDhanave/shotlog/internal/ingest"
	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/normalize"
	"github.com/PratikDhanave/shotlog/internal/relay"
	"github.com/PratikDhanave/shotlog/internal/sequence"
	"github.com/PratikDhanave/shotlog/internal/store"
	"github.com/PratikDhanave/shotlog/internal/store/badgerstore"
	"github.com/PratikDhanave/shotlog/internal/store/postgres"
	"github.com/PratikDhanave/shotlog/internal/supervisor"
)

// main boots the service: config → store → hub → ingest pipeline → HTTP server,
// all supervised until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	defer st.Close()

	tree := supervisor.NewTree(logging.NewSlog(), supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})

	h := hub.New(cfg.Hub.Name, cfg.Hub.MailboxSize)
	tree.AddMessagingService(supervisor.NewRunnerService("hub-"+h.Name(), h))

	// With NATS configured every replica publishes to the relay subject and
	// fans out whatever arrives on it; otherwise the hub is fed directly.
	var broadcaster ingest.Broadcaster = h
	if cfg.NATS.URL != "" {
		nc, err := relay.Connect(cfg.NATS.URL)
		if err != nil {
			logging.Fatal().Err(err).Msg("connect relay")
		}
		defer nc.Drain()
		broadcaster = relay.NewPublisher(nc, cfg.NATS.Subject, h)
		tree.AddMessagingService(relay.NewSubscriber(nc, cfg.NATS.Subject, h))
	}

	pipeline := ingest.New(normalize.New(), sequence.NewAssigner(st, cfg.Ingest.DayOffset), broadcaster)

	handler := httpserver.NewHandler(cfg, httpserver.Deps{
		Store:    st,
		Ingester: pipeline,
		Hub:      h,
	})
	srv := httpserver.NewServer(cfg, handler)
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Driver).
		Dur("day_offset", cfg.Ingest.DayOffset).
		Bool("relay", cfg.NATS.URL != "").
		Msg("server starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == config.DriverBadger {
		st, err := badgerstore.Open(cfg.Store.BadgerPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := postgres.New(ctx, cfg.Store.DBURL)
	if err != nil {
		return nil, err
	}
	return st, nil
}
