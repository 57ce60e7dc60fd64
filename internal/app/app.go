package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/songhub-server/internal/access"
	"github.com/vovakirdan/songhub-server/internal/auth"
	"github.com/vovakirdan/songhub-server/internal/config"
	"github.com/vovakirdan/songhub-server/internal/core"
	"github.com/vovakirdan/songhub-server/internal/dispatch"
	"github.com/vovakirdan/songhub-server/internal/mirror"
	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/stats"
	"github.com/vovakirdan/songhub-server/internal/store"
	"github.com/vovakirdan/songhub-server/internal/store/sqlite"
	"github.com/vovakirdan/songhub-server/internal/tick"
	"github.com/vovakirdan/songhub-server/internal/transport"
	transporthttp "github.com/vovakirdan/songhub-server/internal/transport/http"
	"github.com/vovakirdan/songhub-server/internal/transport/stream"
	"github.com/vovakirdan/songhub-server/internal/transport/ws"
)

// App wires together core and transport layers.
type App struct {
	cfg   config.Config
	clock clock.Clock
	log   *zerolog.Logger

	store      *sqlite.SQLiteStore
	hub        *core.Hub
	network    *transport.Network
	dispatcher *dispatch.Dispatcher
	driver     *tick.Driver
	tcp        *stream.Listener
	server     *stdhttp.Server
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	Clock clock.Clock
}

// New constructs the application with provided configuration. Listeners are
// bound here so address errors surface before Run.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	a := &App{cfg: cfg, clock: opts.Clock, log: logger}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.store = st
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	acl := access.NewManager(st, cfg.Access.WhitelistEnabled, logger)
	if err := acl.Seed(ctx, store.AccessBlacklist, cfg.Access.Blacklist); err != nil {
		a.cleanup()
		return nil, err
	}
	if err := acl.Seed(ctx, store.AccessWhitelist, cfg.Access.Whitelist); err != nil {
		a.cleanup()
		return nil, err
	}
	if err := acl.Load(ctx); err != nil {
		a.cleanup()
		return nil, err
	}

	counters := stats.NewCounters(a.clock)
	var obs *mirror.Mirror
	hubOpts := core.Options{
		Clock:          a.clock,
		Logger:         logger,
		Counters:       counters,
		KeepEmptyRooms: cfg.Tournament.Enabled,
	}
	if cfg.Server.EnableRoomMirror {
		obs = mirror.New(nil, logger)
		hubOpts.Publisher = obs
	}
	a.hub = core.NewHub(hubOpts)
	if obs != nil {
		obs.SetSource(a.hub)
	}
	a.createTournamentRooms()

	a.network = transport.NewNetwork(cfg.Server.EventQueueSize, cfg.Server.ApprovalTimeout, logger)
	a.dispatcher = dispatch.New(a.hub, a.network.Events(), acl, counters, dispatch.Config{
		AllowEventMessages: cfg.Server.AllowEventMessages,
	}, logger)

	a.driver = tick.NewDriver(cfg.Server.TickInterval(), a.clock, logger)
	a.driver.OnTick("dispatch", func(ctx context.Context, _ tick.Tick) { a.dispatcher.Poll(ctx) })
	a.driver.OnTick("rooms", func(context.Context, tick.Tick) { a.hub.Update() })
	a.driver.OnTick("counters", func(context.Context, tick.Tick) { counters.Roll() })
	a.driver.AfterTick("flush", func(context.Context, tick.Tick) { a.network.Flush() })

	if cfg.Server.EnableTCP {
		a.tcp, err = stream.Listen(cfg.Server.TCPAddr, a.network, logger)
		if err != nil {
			a.cleanup()
			return nil, err
		}
	}

	deps := transporthttp.Deps{
		Hub:      a.hub,
		Mirror:   obs,
		Access:   acl,
		Presets:  st,
		Ticker:   a.driver,
		Counters: counters,
		Clock:    a.clock,
	}
	if cfg.Server.EnableWS {
		deps.Players = ws.NewHandler(a.network, logger)
	}
	if cfg.Admin.Enabled {
		deps.Auth = auth.NewService(cfg.Admin.PasswordHash, &auth.JWTConfig{
			Secret:   []byte(cfg.Admin.JWTSecret),
			Issuer:   cfg.Admin.Issuer,
			Audience: cfg.Admin.Audience,
			TTL:      cfg.Admin.TokenTTL,
		}, a.clock, logger)
		if cfg.Admin.PasswordHash == "" {
			logger.Warn().Msg("admin api enabled without admin.password_hash, logins will be refused")
		}
	}
	a.server = transporthttp.NewServer(deps, cfg, logger)

	return a, nil
}

func (a *App) createTournamentRooms() {
	t := a.cfg.Tournament
	if !t.Enabled {
		return
	}
	for i := 1; i <= t.Rooms; i++ {
		id := a.hub.CreateReservedRoom(proto.RoomSettings{
			Name:           fmt.Sprintf(t.NameTemplate, i),
			UsePassword:    t.Password != "",
			Password:       t.Password,
			SelectionType:  proto.SelectionManual,
			AvailableSongs: t.Songs,
		})
		a.log.Info().Uint32("room_id", id).Msg("tournament room created")
	}
}

// Hub exposes the room hub.
func (a *App) Hub() *core.Hub {
	return a.hub
}

// Run starts the tick driver and listeners and blocks until ctx is canceled
// or a listener fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.driver.Start(); err != nil {
		a.cleanup()
		return err
	}

	// Listeners outlive ctx so goodbye frames are written before connections
	// close.
	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()

	g, gctx := errgroup.WithContext(ctx)
	if a.tcp != nil {
		g.Go(func() error {
			return a.tcp.Serve(serveCtx)
		})
	}
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server started")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		err := a.shutdown()
		cancelServe()
		return err
	})

	err := g.Wait()
	a.cleanup()
	return err
}

func (a *App) shutdown() error {
	a.log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.driver.Stop(ctx)
	a.hub.Shutdown(core.ReasonShutdown)
	a.network.Flush()
	a.network.Shutdown(core.ReasonShutdown)
	if err := a.network.Wait(ctx); err != nil {
		a.log.Warn().Err(err).Int("peers", a.network.Peers()).Msg("connections still open after shutdown timeout")
	}

	a.log.Info().Msg("shutting down http server")
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.tcp != nil {
		_ = a.tcp.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
		a.store = nil
	}
}

// WaitReady blocks until the tick driver runs or timeout passes. Used by
// tests that start Run in a goroutine.
func (a *App) WaitReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.driver.Running() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
