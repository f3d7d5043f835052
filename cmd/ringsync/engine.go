package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/devicefactory"
	"github.com/srg/ringsync/internal/groutine"
	"github.com/srg/ringsync/internal/store"
	"github.com/srg/ringsync/internal/syncer"
	"github.com/srg/ringsync/pkg/config"
)

// newEngine wires the radio, codec and optional publisher from cfg.
// The returned cleanup closes the engine and then the publisher.
func newEngine(cfg *config.Config, st store.Store, logger *logrus.Logger) (*syncer.Engine, func(), error) {
	codec, err := cfg.NewCodec()
	if err != nil {
		return nil, nil, err
	}

	radio, err := devicefactory.NewRadio(logger)
	if err != nil {
		return nil, nil, err
	}
	if r, ok := radio.(interface{ SetConnectTimeout(time.Duration) }); ok {
		r.SetConnectTimeout(cfg.Connection.ConnectTimeout)
	}

	opts := cfg.SyncOptions()
	pub := cfg.NewPublisher(logger)
	if pub != nil {
		opts.Publisher = pub
	}

	engine := syncer.New(radio, st, codec, opts, logger)
	return engine, func() {
		engine.Close()
		if pub != nil {
			pub.Close()
		}
	}, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// driveEngine runs the engine loop, invokes start and reports every status
// until a terminal one arrives. The engine is left running; the caller closes it.
func driveEngine(ctx context.Context, engine *syncer.Engine, start func(ctx context.Context) error, onStatus func(syncer.Status)) (syncer.Status, error) {
	statuses, unsubscribe := engine.Subscribe(16)
	defer unsubscribe()

	groutine.Go(ctx, "sync-engine", func(ctx context.Context) {
		_ = engine.Run(ctx)
	})

	if err := start(ctx); err != nil {
		return engine.Status(), err
	}

	for {
		select {
		case <-ctx.Done():
			return engine.Status(), ctx.Err()
		case st, ok := <-statuses:
			if !ok {
				return engine.Status(), context.Canceled
			}
			if onStatus != nil {
				onStatus(st)
			}
			if st.Kind.Terminal() {
				return st, nil
			}
		}
	}
}
