package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/leshachaplin/trackpost"
	"github.com/leshachaplin/trackpost/app/waiter"
	"github.com/leshachaplin/trackpost/internal/config"
	appServer "github.com/leshachaplin/trackpost/internal/server/http"
)

const (
	defaultAddr = ":8080"
)

type LoadConfigFn func() (config.Config, error)

type App struct {
	cfg      config.Config
	logger   zerolog.Logger
	server   *appServer.Server
	waiter   waiter.Waiter
	ctx      context.Context
	cancelFn context.CancelFunc
}

func New(loadConfigFn LoadConfigFn) *App {
	ctx, cancelFn := context.WithCancel(context.Background())
	cfg, err := loadConfigFn()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := NewZeroLogger(Level(cfg.LogLevel))

	w := waiter.NewWaiter(ctx, cancelFn)

	return &App{
		cfg:      cfg,
		logger:   logger,
		waiter:   w,
		ctx:      ctx,
		cancelFn: cancelFn,
	}
}

func (a *App) Start() {
	defer a.cancelFn()

	tracker, err := trackpost.New(a.cfg.Tracker, a.logger.With().Str("component", "tracker").Logger())
	if err != nil {
		a.logger.Fatal().Err(err).Msg("Could not setup tracker.")
	}

	handler := appServer.NewHandler(tracker, a.logger)
	a.server = appServer.New(handler)

	a.waitForServer()
	a.waitForTracker(tracker)

	if err = a.waiter.Wait(); err != nil {
		a.logger.Fatal().Err(err).Msg("App crash.")
	}
}

func (a *App) Stop() {
	a.cancelFn()
}

func (a *App) addr() string {
	if a.cfg.Addr != "" {
		return a.cfg.Addr
	}
	return defaultAddr
}

func (a *App) waitForServer() {
	a.waiter.Add(func(ctx context.Context) error {
		defer a.logger.Debug().Msg("server has been shutdown")

		group, gCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			defer a.logger.Debug().Msg("public server exited")
			a.logger.Info().Str("starting server at: ", a.addr()).Send()
			err := a.server.ServePublic(a.addr())
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		group.Go(func() error {
			<-gCtx.Done()
			a.logger.Debug().Msg("shutting down the server")
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			if err := a.server.ShutdownPublic(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("error while shutting down the server")
			}
			return nil
		})

		return group.Wait()
	})
}

// waitForTracker closes the tracker on shutdown, letting an in-flight
// dispatch cycle finish so nothing is double-sent on next launch.
func (a *App) waitForTracker(tracker *trackpost.Tracker) {
	a.waiter.Add(func(ctx context.Context) error {
		group, gCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			<-gCtx.Done()
			if err := tracker.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("error while closing the tracker")
			}
			return nil
		})
		return group.Wait()
	})
}
