package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/do"
	"go.uber.org/zap"

	"fastsd/console"
	"fastsd/core"
	"fastsd/gallery"
	"fastsd/history"
	"fastsd/imagegen"
	"fastsd/metrics"
	"fastsd/sdruntime"
	"fastsd/session"
	"fastsd/settings"
	"fastsd/shutdown"
	"fastsd/webui"
	"fastsd/webui/auth"
)

// Names of values provided by setupInjector.
const (
	consoleIn  = "console.in"
	consoleOut = "console.out"
)

const historyBuffer = 256

// setupInjector declares every component. Providers are lazy: only what the
// selected surfaces invoke gets built, and each component registers its own
// cleanup with mgr when it is constructed.
func setupInjector(cfg *core.Config, logger *zap.Logger, mgr *shutdown.Manager, in io.Reader, out io.Writer) *do.Injector {
	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		},
	})

	do.ProvideValue[*core.Config](injector, cfg)
	do.ProvideValue[*zap.Logger](injector, logger)
	do.ProvideValue[*shutdown.Manager](injector, mgr)
	do.ProvideNamedValue[io.Reader](injector, consoleIn, in)
	do.ProvideNamedValue[io.Writer](injector, consoleOut, out)

	do.Provide[session.Pipeline](injector, providePipeline)
	do.Provide[*metrics.Collector](injector, func(i *do.Injector) (*metrics.Collector, error) {
		return metrics.NewCollector(), nil
	})
	do.Provide[*metrics.Summary](injector, func(i *do.Injector) (*metrics.Summary, error) {
		return metrics.NewSummary(0, time.Now()), nil
	})
	do.Provide[*session.Controller](injector, provideController)
	do.Provide[*session.Dispatcher](injector, provideDispatcher)

	do.Provide[*settings.Store](injector, func(i *do.Injector) (*settings.Store, error) {
		return settings.NewStore(do.MustInvoke[*core.Config](i).SettingsPath), nil
	})
	do.Provide[*settings.Live](injector, provideLive)

	do.Provide[*history.Repository](injector, provideHistory)
	do.Provide[*gallery.Archive](injector, provideArchive)

	do.Provide[*webui.Server](injector, provideWebServer)
	do.Provide[*console.Console](injector, provideConsole)

	return injector
}

func providePipeline(i *do.Injector) (session.Pipeline, error) {
	cfg := do.MustInvoke[*core.Config](i)
	logger := do.MustInvoke[*zap.Logger](i)

	var (
		p   session.Pipeline
		err error
	)
	switch cfg.Pipeline {
	case core.PipelineOpenAI:
		p, err = imagegen.NewOpenAIPipeline(imagegen.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIImageModel,
			APIVersion: cfg.OpenAIAPIVersion,
			HTTPClient: core.GetHTTPClient(cfg, cfg.RemoteTimeout),
		}, logger)
	default:
		p, err = sdruntime.NewPipeline(sdruntime.LoadConfig(), logger)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Pipeline adapter ready", zap.String("pipeline", cfg.Pipeline))
	return p, nil
}

func provideController(i *do.Injector) (*session.Controller, error) {
	cfg := do.MustInvoke[*core.Config](i)
	observer := metrics.Fanout{
		do.MustInvoke[*metrics.Collector](i),
		do.MustInvoke[*metrics.Summary](i),
	}
	c := session.NewController(do.MustInvoke[session.Pipeline](i),
		session.WithLogger(do.MustInvoke[*zap.Logger](i)),
		session.WithObserver(observer),
		session.WithAcceleratedModelID(cfg.AcceleratedModelID),
	)
	// The controller lock keeps the release from racing a running request.
	do.MustInvoke[*shutdown.Manager](i).Register("pipeline", shutdown.PriorityCleanup, c.Close)
	return c, nil
}

func provideDispatcher(i *do.Injector) (*session.Dispatcher, error) {
	cfg := do.MustInvoke[*core.Config](i)
	d := session.NewDispatcher(do.MustInvoke[*session.Controller](i),
		session.WithPolicy(cfg.DispatchPolicy),
		session.WithDispatchLogger(do.MustInvoke[*zap.Logger](i)),
	)
	do.MustInvoke[*shutdown.Manager](i).Register("dispatcher", shutdown.PriorityDispatcher, d.Close)
	return d, nil
}

func provideLive(i *do.Injector) (*settings.Live, error) {
	cfg := do.MustInvoke[*core.Config](i)
	logger := do.MustInvoke[*zap.Logger](i)
	mgr := do.MustInvoke[*shutdown.Manager](i)
	store := do.MustInvoke[*settings.Store](i)

	initial, err := store.Load()
	if err != nil {
		return nil, err
	}
	live := settings.NewLive(initial)
	logger.Info("Settings loaded",
		zap.String("path", cfg.SettingsPath),
		zap.String("results_path", initial.ResultsPath))

	mgr.Register("settings", shutdown.PrioritySettings, func(context.Context) error {
		return store.Save(live.Get())
	})
	mgr.Register("settings-temp-files", shutdown.PriorityCleanup,
		shutdown.CleanupStaleFiles(logger, filepath.Dir(cfg.SettingsPath), settings.TempFilePattern))
	return live, nil
}

func provideHistory(i *do.Injector) (*history.Repository, error) {
	cfg := do.MustInvoke[*core.Config](i)
	logger := do.MustInvoke[*zap.Logger](i)

	db, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return nil, err
	}
	repo := history.NewRepository(db, logger)

	if cfg.HistoryRetention > 0 {
		n, err := repo.Prune(context.Background(), cfg.HistoryRetention)
		if err != nil {
			logger.Warn("History prune failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("Pruned old history records",
				zap.Int64("removed", n),
				zap.Duration("retention", cfg.HistoryRetention))
		}
	}
	repo.StartAsync(historyBuffer)

	do.MustInvoke[*shutdown.Manager](i).Register("history", shutdown.PriorityHistory, func(ctx context.Context) error {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		repo.StopAsync(timeout)
		return db.Close()
	})
	return repo, nil
}

func provideArchive(i *do.Injector) (*gallery.Archive, error) {
	cfg := do.MustInvoke[*core.Config](i)
	logger := do.MustInvoke[*zap.Logger](i)

	opts := []gallery.Option{
		gallery.WithLogger(logger.Named("gallery")),
		gallery.WithRecorder(do.MustInvoke[*history.Repository](i)),
	}
	if cfg.OutputS3Bucket != "" {
		awsCfg, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS configuration: %w", err)
		}
		opts = append(opts, gallery.WithMirror(newS3Mirror(awsCfg, cfg, logger)))
		logger.Info("Mirroring images to S3",
			zap.String("bucket", cfg.OutputS3Bucket),
			zap.String("prefix", cfg.OutputS3Prefix))
	}
	return gallery.NewArchive(gallery.FileSaver{}, opts...), nil
}

func newS3Mirror(awsCfg aws.Config, cfg *core.Config, logger *zap.Logger) *gallery.S3Saver {
	return &gallery.S3Saver{
		Client: s3.NewFromConfig(awsCfg),
		Bucket: cfg.OutputS3Bucket,
		Prefix: cfg.OutputS3Prefix,
		Logger: logger,
	}
}

func provideWebServer(i *do.Injector) (*webui.Server, error) {
	cfg := do.MustInvoke[*core.Config](i)
	logger := do.MustInvoke[*zap.Logger](i)
	mgr := do.MustInvoke[*shutdown.Manager](i)

	deps := webui.Deps{
		Dispatcher: do.MustInvoke[*session.Dispatcher](i),
		Pipeline:   do.MustInvoke[*session.Controller](i),
		Settings:   do.MustInvoke[*settings.Live](i),
		Archive:    do.MustInvoke[*gallery.Archive](i),
		History:    do.MustInvoke[*history.Repository](i),
		Summary:    do.MustInvoke[*metrics.Summary](i),
		Metrics:    do.MustInvoke[*metrics.Collector](i).Handler(),
		Tracker:    mgr,
		Logger:     logger,
	}

	if cfg.WebUIPasswordHash != "" {
		ba, err := auth.NewBasicAuth(cfg.WebUIPasswordHash, auth.DefaultConfig(), logger)
		if err != nil {
			return nil, err
		}
		ba.Limiter().StartCleanup(mgr.Context(), time.Minute)
		deps.Auth = ba.Middleware
	} else if cfg.WebUIHost != "127.0.0.1" && cfg.WebUIHost != "localhost" {
		logger.Warn("Web UI is reachable from the network without a password",
			zap.String("host", cfg.WebUIHost))
	}

	serverCfg := webui.DefaultServerConfig()
	serverCfg.Addr = cfg.ListenAddr()
	srv, err := webui.NewServer(serverCfg, deps)
	if err != nil {
		return nil, err
	}
	mgr.Register("web", shutdown.PriorityWebServer, srv.Shutdown)
	return srv, nil
}

func provideConsole(i *do.Injector) (*console.Console, error) {
	mgr := do.MustInvoke[*shutdown.Manager](i)
	return console.New(
		do.MustInvokeNamed[io.Reader](i, consoleIn),
		do.MustInvokeNamed[io.Writer](i, consoleOut),
		do.MustInvoke[*settings.Live](i),
		do.MustInvoke[*session.Dispatcher](i),
		do.MustInvoke[*gallery.Archive](i),
		console.WithLogger(do.MustInvoke[*zap.Logger](i)),
		console.WithQuit(func() { mgr.Trigger("console quit") }),
	), nil
}
