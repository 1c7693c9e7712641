package application

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/eventloop"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/matchmaking"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/menu"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	zlog "github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/etcd"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
	zviper "github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/viper"
)

const shutdownTimeout = 5 * time.Second

var registerMetricsOnce sync.Once

// Application is the main runtime container of the matchmaking process.
// It owns configuration, loggers, the event loop, the online provider,
// the orchestrator and the menu driving it.
type Application struct {
	args     []string
	cfg      *zviper.Config
	settings Settings
	loggers  map[string]*zlog.MLogger

	loop     *eventloop.Loop
	provider closableProvider
	orch     *matchmaking.Orchestrator
	menu     *menu.Menu
	traveler *logTraveler
	ready    chan struct{}
}

// New creates a new Application instance reading os.Args.
func New() *Application {
	return &Application{
		args:  os.Args[1:],
		ready: make(chan struct{}),
	}
}

// Run is the entry of the matchmaking application. It blocks until ctx is
// canceled or a component fails.
//
// The configuration file is resolved with the following priority:
//  1. Default: ./config.yaml
//  2. Env: MATCHMAKING_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
func (a *Application) Run(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}
	defer zlog.Sync()

	if err := a.cfg.Unmarshal(&a.settings); err != nil {
		return errors.Wrap(err, "unmarshal settings")
	}
	action := strings.ToLower(a.settings.Menu.Action)
	switch action {
	case ActionHost, ActionJoin, ActionIdle:
	default:
		return merr.WrapErrParameterInvalidMsg("unknown menu action %q", a.settings.Menu.Action)
	}

	registerMetricsOnce.Do(func() {
		metrics.Register(prometheus.DefaultRegisterer)
	})

	if err := a.initComponents(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.loop.Run(gctx)
	})
	if listen := a.settings.Metrics.Listen; listen != "" {
		a.serveMetrics(gctx, g, listen)
	}
	g.Go(func() error {
		err := a.loop.Do(gctx, func() {
			a.menu.Setup()
			switch action {
			case ActionHost:
				a.menu.Host()
			case ActionJoin:
				a.menu.Join()
			}
		})
		if err != nil {
			return err
		}
		close(a.ready)
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if shutdownErr := a.shutdown(); shutdownErr != nil {
		zlog.Warn("shutdown with error", zap.Error(shutdownErr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Settings returns the typed configuration.
func (a *Application) Settings() Settings {
	return a.settings
}

// Orchestrator returns the session orchestrator, available once Run has built it.
func (a *Application) Orchestrator() *matchmaking.Orchestrator {
	return a.orch
}

// Ready is closed after the configured menu action has been issued.
func (a *Application) Ready() <-chan struct{} {
	return a.ready
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return zlog.With(zlog.FieldModule(name))
}

func (a *Application) initComponents(ctx context.Context) error {
	a.loop = eventloop.New()
	a.loop.SetLogger(a.Logger("eventloop"))

	provider, err := newProvider(ctx, &a.settings, a.loop, a.Logger("provider"))
	if err != nil {
		return err
	}
	a.provider = provider

	identity := online.UniqueNetID(a.settings.Matchmaking.Identity)
	if !identity.IsValid() {
		identity = online.NewUniqueNetID()
	}
	opts := []matchmaking.Option{matchmaking.WithBuildVersion(a.settings.Provider.BuildVersion)}
	if id := a.settings.Matchmaking.BuildUniqueID; id != 0 {
		opts = append(opts, matchmaking.WithBuildUniqueID(id))
	}
	var p online.Provider
	if provider != nil {
		p = provider
	}
	a.orch = matchmaking.New(p, identity, opts...)
	a.orch.SetLogger(a.Logger("matchmaking").With(zap.Stringer("identity", identity)))

	a.traveler = &logTraveler{}
	a.traveler.SetLogger(a.Logger("menu"))
	a.menu = menu.New(a.settings.Menu.Config, a.orch, a.traveler)
	a.menu.SetLogger(a.Logger("menu"))

	zlog.Info("matchmaking components ready",
		zap.String("subsystem", subsystemOf(p)),
		zap.Stringer("identity", identity),
		zap.String("action", a.settings.Menu.Action))
	return nil
}

func subsystemOf(p online.Provider) string {
	if p == nil {
		return ProviderNone
	}
	return p.SubsystemName()
}

// serveMetrics exposes prometheus metrics and pprof on listen until ctx is done.
func (a *Application) serveMetrics(ctx context.Context, g *errgroup.Group, listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		zlog.Info("serve metrics", zap.String("listen", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "serve metrics on %s", listen)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

// shutdown closes the provider, then the loop and the embedded etcd if any.
func (a *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.menu != nil {
		a.menu.TearDown()
	}
	if a.provider != nil {
		if err := a.provider.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.loop != nil {
		a.loop.Stop()
	}
	if etcd.HasServer() {
		etcd.StopEtcdServer()
	}
	return merr.Combine(errs...)
}

// loadConfig resolves config file path and loads it via viper wrapper.
func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath := defaultConfigPath

	if envPath := os.Getenv(envConfigFilePath); envPath != "" {
		configPath = envPath
	}

	args := a.args
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value after --config")
			}
			configPath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			val := strings.TrimPrefix(arg, "--config=")
			if val != "" {
				configPath = val
			}
			continue
		}
	}

	cfg := zviper.New(envPrefix)
	cfg.SetDefaults(defaultSettings())
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", configPath, err)
	}

	return cfg, nil
}
