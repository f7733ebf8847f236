// Package app wires the application's services together. Services are
// registered with a samber/do container and built lazily on first use, so a
// CLI command that only lists topics never starts the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/do/v2"

	"github.com/nfrund/topicspace/internal/chat"
	"github.com/nfrund/topicspace/internal/config"
	"github.com/nfrund/topicspace/internal/logging"
	"github.com/nfrund/topicspace/internal/messages"
	"github.com/nfrund/topicspace/internal/notify"
	"github.com/nfrund/topicspace/internal/presence"
	"github.com/nfrund/topicspace/internal/pubsub"
	"github.com/nfrund/topicspace/internal/server"
	"github.com/nfrund/topicspace/internal/space"
	"github.com/nfrund/topicspace/internal/space/memory"
	"github.com/nfrund/topicspace/internal/space/surreal"
	"github.com/nfrund/topicspace/internal/topics"
)

// App is the wired application.
type App struct {
	injector *do.RootScope
	logger   *slog.Logger

	mu      sync.Mutex
	closers []closer
}

type closer struct {
	name  string
	close func(context.Context) error
}

// New registers every service against cfg. Nothing is constructed until it
// is first requested.
func New(cfg config.Provider) *App {
	a := &App{
		injector: do.New(),
		logger:   slog.Default().With("component", "app"),
	}

	do.ProvideValue(a.injector, cfg)
	do.Provide(a.injector, a.provideBus)
	do.Provide(a.injector, a.provideSpace)
	do.Provide(a.injector, providePresence)
	do.Provide(a.injector, provideMessages)
	do.Provide(a.injector, provideTopics)
	do.Provide(a.injector, provideSubscriber)
	do.Provide(a.injector, provideChat)
	do.Provide(a.injector, a.provideServer)
	return a
}

// Chat returns the chat facade.
func (a *App) Chat() (*chat.Service, error) {
	return do.Invoke[*chat.Service](a.injector)
}

// Server returns the HTTP server.
func (a *App) Server() (*server.Server, error) {
	return do.Invoke[*server.Server](a.injector)
}

// Space returns the coordination space handle.
func (a *App) Space() (*space.Handle, error) {
	return do.Invoke[*space.Handle](a.injector)
}

// Shutdown stops the services that were started, newest first, so the HTTP
// server drains before the space and the bus are closed.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.close(ctx); err != nil {
			a.logger.WarnContext(ctx, "Failed to close service", "service", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) onShutdown(name string, fn func(context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *App) provideBus(i do.Injector) (*pubsub.WatermillBridge, error) {
	cfg := do.MustInvoke[config.Provider](i)

	var opts []pubsub.BridgeOption
	if cfg.GetTracingEnabled() {
		tracer, stop, err := pubsub.SetupTracing(context.Background(), pubsub.TracingConfig{
			Enabled:     true,
			ServiceName: cfg.GetTracingServiceName(),
			ZipkinURL:   cfg.GetZipkinURL(),
		})
		if err != nil {
			return nil, err
		}
		a.onShutdown("tracing", stop)
		opts = append(opts, pubsub.WithTracer(tracer))
		a.logger.Info("Bus tracing enabled", "zipkin_url", cfg.GetZipkinURL())
	}

	bus := pubsub.NewWatermillBridge(logging.NewWatermillAdapter(slog.Default().With("component", "pubsub")), opts...)
	a.onShutdown("pubsub", func(context.Context) error { return bus.Close() })
	return bus, nil
}

func (a *App) provideSpace(i do.Injector) (*space.Handle, error) {
	cfg := do.MustInvoke[config.Provider](i)

	var dial space.Dialer
	switch backend := cfg.GetSpaceBackend(); backend {
	case config.BackendSurreal:
		dial = func(ctx context.Context) (space.Space, error) {
			s, err := surreal.Dial(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	case config.BackendMemory, "":
		bus, err := do.Invoke[*pubsub.WatermillBridge](i)
		if err != nil {
			return nil, err
		}
		dial = func(context.Context) (space.Space, error) {
			return memory.New(memory.WithBus(bus)), nil
		}
	default:
		return nil, fmt.Errorf("unknown space backend %q", backend)
	}

	h := space.NewHandle(dial)
	a.onShutdown("space", func(context.Context) error { return h.Close() })
	return h, nil
}

func providePresence(i do.Injector) (*presence.Tracker, error) {
	cfg := do.MustInvoke[config.Provider](i)
	h, err := do.Invoke[*space.Handle](i)
	if err != nil {
		return nil, err
	}
	return presence.NewTracker(h, presence.WithBreadcrumbLease(cfg.GetBreadcrumbLease())), nil
}

func provideMessages(i do.Injector) (*messages.Store, error) {
	h, err := do.Invoke[*space.Handle](i)
	if err != nil {
		return nil, err
	}
	return messages.NewStore(h), nil
}

func provideTopics(i do.Injector) (*topics.Registry, error) {
	cfg := do.MustInvoke[config.Provider](i)
	h, err := do.Invoke[*space.Handle](i)
	if err != nil {
		return nil, err
	}
	tracker, err := do.Invoke[*presence.Tracker](i)
	if err != nil {
		return nil, err
	}
	store, err := do.Invoke[*messages.Store](i)
	if err != nil {
		return nil, err
	}
	return topics.NewRegistry(h, tracker, store,
		topics.WithCreateTimeout(cfg.GetCreateTxnTimeout()),
		topics.WithLookupTimeout(cfg.GetLookupTimeout()),
	), nil
}

func provideSubscriber(i do.Injector) (*notify.Subscriber, error) {
	cfg := do.MustInvoke[config.Provider](i)
	h, err := do.Invoke[*space.Handle](i)
	if err != nil {
		return nil, err
	}
	return notify.NewSubscriber(h, notify.WithLease(cfg.GetNotifyLease())), nil
}

func provideChat(i do.Injector) (*chat.Service, error) {
	deps := chat.Dependencies{}
	var err error
	if deps.Topics, err = do.Invoke[*topics.Registry](i); err != nil {
		return nil, err
	}
	if deps.Presence, err = do.Invoke[*presence.Tracker](i); err != nil {
		return nil, err
	}
	if deps.Subscriber, err = do.Invoke[*notify.Subscriber](i); err != nil {
		return nil, err
	}
	if deps.Messages, err = do.Invoke[*messages.Store](i); err != nil {
		return nil, err
	}
	return chat.New(deps), nil
}

func (a *App) provideServer(i do.Injector) (*server.Server, error) {
	cfg := do.MustInvoke[config.Provider](i)
	svc, err := do.Invoke[*chat.Service](i)
	if err != nil {
		return nil, err
	}
	srv := server.New(cfg, svc)
	a.onShutdown("http", srv.Shutdown)
	return srv, nil
}
