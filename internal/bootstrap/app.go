package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"transcode-bridge/internal/access"
	"transcode-bridge/internal/config"
	"transcode-bridge/internal/diagnostics"
	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/engine"
	"transcode-bridge/internal/history"
	"transcode-bridge/internal/jobs"
	"transcode-bridge/internal/keepawake"
	"transcode-bridge/internal/logx"
	"transcode-bridge/internal/metrics"
	"transcode-bridge/internal/stager"
	"transcode-bridge/internal/status"
)

// HistoryReader lists recently finished jobs.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]domain.Job, error)
}

// App wires configuration, jobs, staging, access and UI runtime callbacks.
type App struct {
	Options     config.Options
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Controller
	Stager      *stager.Stager
	Access      *access.Gate
	Status      status.Indicator
	History     HistoryReader
	Metrics     *metrics.Metrics
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	closers     []func() error

	mu         sync.Mutex
	runtimeCtx context.Context
	stopSweep  context.CancelFunc
}

// New builds the desktop application from BRIDGE_CONFIG and the environment.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	opts, err := config.LoadOptions(os.Getenv("BRIDGE_CONFIG"))
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	SetupLogging(opts, "app")

	app, err := NewWithOptions(opts)
	if err != nil {
		return nil, err
	}
	app.assets = assets
	return app, nil
}

// SetupLogging configures the global logger from LOG_* variables and opts.Logging.
func SetupLogging(opts config.Options, service string) {
	cfg := logx.FromEnv(service)
	if opts.Logging.Level != "" {
		cfg.Level = strings.ToLower(opts.Logging.Level)
	}
	if opts.Logging.Format != "" {
		cfg.Format = strings.ToLower(opts.Logging.Format)
	}
	if opts.Logging.File != "" {
		cfg.FilePath = opts.Logging.File
	}
	logx.Setup(cfg)
}

// NewWithOptions wires every component from deployment options.
func NewWithOptions(opts config.Options) (*App, error) {
	store := config.NewJSONStore(opts.SettingsPath)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	hist, err := history.Open(opts.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	m := metrics.New()
	bus := jobs.NewEventBus(opts.EventBuffer)
	inhibitor := keepawake.NewProcessInhibitor()

	a := &App{
		Options:  opts,
		Settings: settings,
		Store:    store,
		History:  hist,
		Metrics:  m,
		closers:  []func() error{hist.Close},
	}

	a.Jobs = jobs.NewController(jobs.Options{
		Engine:           engine.NewFFmpegEngine(opts.FFmpegPath),
		KeepAwake:        keepawake.NewGuard(inhibitor, m),
		Bus:              bus,
		Recorder:         hist,
		Metrics:          m,
		KeepAwakeCeiling: opts.KeepAwakeCeiling,
	})
	bus.AddSink(jobs.SinkFunc(a.emitRuntimeEvent))

	a.Stager = stager.New(stager.Options{
		PrivateDir: opts.PrivateDir,
		PublicDir:  settings.OutputDir,
		Indexer:    stager.NewCommandIndexer(),
		Metrics:    m,
	})

	probe := access.NewHostProbe(opts.AccessTier)
	a.Access = access.NewGate(access.Options{
		Probe:       probe,
		Dialog:      runtimeDialog{app: a},
		Decisions:   store,
		Checker:     outputDirChecker{app: a},
		Surfaces:    access.SettingsSurfaces(probe.GOOS, access.ExecOpener{GOOS: probe.GOOS}, a.openRuntimeSettings),
		AppSettings: a.openRuntimeSettings,
		Metrics:     m,
	})

	a.Status = status.Multi{
		status.TitleIndicator{App: opts.AppName, SetTitle: a.setWindowTitle},
		status.EventIndicator{Bus: bus},
	}

	a.checker = diagnostics.NewChecker(diagnostics.Targets{
		FFmpegBinary:    opts.FFmpegPath,
		PrivateDir:      opts.PrivateDir,
		KeepAwakeHelper: inhibitor.HelperName(),
	})
	a.Diagnostics = a.checker.Run(settings)

	sweepCtx, stop := context.WithCancel(context.Background())
	a.stopSweep = stop
	a.Stager.StartSweepLoop(sweepCtx, opts.Sweep.Interval, opts.Sweep.MaxAge)

	log.Info().
		Str("private_dir", opts.PrivateDir).
		Str("output_dir", settings.OutputDir).
		Str("access_tier", string(a.Access.Tier())).
		Bool("diagnostics_failed", a.Diagnostics.HasFailures).
		Msg("bridge ready")
	return a, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       a.title(),
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown detaches the runtime and releases host resources.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}

// Close ends keep-awake, cancels any active job and closes the history store.
func (a *App) Close() error {
	if a.Jobs != nil {
		a.Jobs.Cancel()
		a.Jobs.EndKeepAwake()
	}

	a.mu.Lock()
	stop := a.stopSweep
	closers := a.closers
	a.stopSweep = nil
	a.closers = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	var errs []string
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, " | "))
	}
	return nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	// The access decision is owned by the gate, not the settings form.
	if current, err := a.Store.Load(); err == nil {
		normalized.AccessDecision = current.AccessDecision
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	if a.Stager != nil {
		a.Stager.SetPublicDir(normalized.OutputDir)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics, nil
}

// OpenOutputFolder opens the given path (or configured output dir) in the file manager.
func (a *App) OpenOutputFolder(path string) domain.OperationResult {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.outputDir()
	}
	if target == "" {
		return domain.Failure(domain.NewError(domain.KindInvalidInput, "output path is empty", nil))
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return domain.Failure(domain.NewError(domain.KindIOFailure, "resolve output path", err))
	}
	if err := (access.ExecOpener{}).Open(context.Background(), target); err != nil {
		return domain.Failure(domain.NewError(domain.KindIOFailure, "launch file manager", err))
	}
	return domain.OperationResult{Success: true}
}

func (a *App) outputDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Settings.OutputDir
}

func (a *App) title() string {
	if a.Options.AppName != "" {
		return a.Options.AppName
	}
	return config.DefaultAppName
}

// runtimeContext returns current Wails runtime context for dialog and event APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user input and falls back to the default output folder.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	if settings.OutputDir == "" {
		settings.OutputDir = config.DefaultSettings().OutputDir
	}
	return settings
}
