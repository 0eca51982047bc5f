package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tgdrive/qdrop/internal/banner"
	"github.com/tgdrive/qdrop/internal/blobstore"
	"github.com/tgdrive/qdrop/internal/cache"
	"github.com/tgdrive/qdrop/internal/chizap"
	"github.com/tgdrive/qdrop/internal/config"
	"github.com/tgdrive/qdrop/internal/logging"
	"github.com/tgdrive/qdrop/internal/middleware"
	"github.com/tgdrive/qdrop/internal/reaper"
	"github.com/tgdrive/qdrop/internal/registry"
	"github.com/tgdrive/qdrop/internal/version"
	"github.com/tgdrive/qdrop/pkg/controller"
	"github.com/tgdrive/qdrop/pkg/services"
)

func NewRun() *cobra.Command {
	var cfg config.ServerCmdConfig
	loader := config.NewConfigLoader()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the qdrop server",
		Run: func(cmd *cobra.Command, args []string) {
			runApplication(cmd.Context(), &cfg)
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loader.Load(cmd, &cfg); err != nil {
				return err
			}
			if err := loader.Validate(); err != nil {
				return err
			}
			return nil
		},
	}
	if err := loader.RegisterFlags(cmd.Flags(), "", cfg, false); err != nil {
		panic(err)
	}
	return cmd
}

func findAvailablePort(startPort int) (int, error) {
	for port := startPort; port < startPort+100; port++ {
		addr := fmt.Sprintf(":%d", port)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		listener.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no available ports found between %d and %d", startPort, startPort+100)
}

func runApplication(ctx context.Context, conf *config.ServerCmdConfig) {
	logging.SetConfig(logging.Config{
		Level:    logging.ParseLevel(conf.Log.Level),
		FilePath: conf.Log.File,
	})

	logger := logging.DefaultLogger()
	lg := logger.Sugar()

	defer lg.Sync()

	port, err := findAvailablePort(conf.Server.Port)
	if err != nil {
		lg.Fatalw("failed to find available port", "err", err)
	}
	if port != conf.Server.Port {
		lg.Infof("Port %d is occupied, using port %d instead", conf.Server.Port, port)
		conf.Server.Port = port
	}

	backend, err := newRegistryBackend(ctx, &conf.Registry)
	if err != nil {
		lg.Fatalw("failed to open registry", "err", err)
	}
	reg := registry.New(backend, conf.Share.TTL, registry.WithLogger(logger.Named("registry")))
	defer reg.Close()

	store, err := newBlobStore(ctx, &conf.Blob, lg)
	if err != nil {
		lg.Fatalw("failed to open blob store", "err", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	rp := reaper.New(reg, store, reaper.Config{
		Interval: conf.Share.SweepInterval,
		Workers:  conf.Share.SweepWorkers,
	}, logger)
	reg.OnExpired(rp.Expire)
	rp.Start(ctx)
	defer rp.Stop()

	cacher, err := cache.NewCache(ctx, &conf.Cache)
	if err != nil {
		lg.Fatalw("failed to create cache", "err", err)
	}
	if c, ok := cacher.(io.Closer); ok {
		defer c.Close()
	}

	shares := services.NewShareService(reg, store, services.Options{
		MaxSize: conf.Share.MaxSize.Int64(),
		Cache:   cacher,
		Logger:  logger,
	})

	srv := setupServer(conf, shares, logger)

	banner.PrintBanner(os.Stdout, banner.StartupInfo{
		Version:  version.Version,
		Addr:     srv.Addr,
		LogLevel: conf.Log.Level,
		Registry: conf.Registry.Backend,
		Blob:     store.String(),
		TTL:      conf.Share.TTL,
	})

	go func() {
		lg.Infof("Server started at http://localhost:%d", conf.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Errorw("failed to start server", "err", err)
		}
	}()

	<-ctx.Done()

	lg.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.Server.GracefulShutdown)

	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Errorw("server shutdown failed", "err", err)
	}

	lg.Info("Server stopped")
}

func newRegistryBackend(ctx context.Context, cfg *config.RegistryConfig) (registry.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return registry.NewMemory(), nil
	case "bolt":
		return registry.NewBolt(cfg.BoltPath, 5*time.Second)
	case "redis":
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return registry.NewRedis(client, cfg.RedisPrefix), nil
	}
	return nil, errors.Errorf("unknown registry backend %q", cfg.Backend)
}

func newBlobStore(ctx context.Context, cfg *config.BlobConfig, lg *zap.SugaredLogger) (blobstore.Store, error) {
	switch cfg.Backend {
	case "disk":
		return blobstore.NewDisk(cfg.Dir)
	case "memory":
		return blobstore.NewMemory(), nil
	case "webdav":
		return blobstore.NewWebDAV(ctx, blobstore.WebDAVConfig{
			URL:      cfg.WebDAV.URL,
			User:     cfg.WebDAV.User,
			Password: cfg.WebDAV.Password,
			Root:     cfg.WebDAV.Root,
			Timeout:  cfg.Timeout,
		})
	case "sftp":
		if cfg.SFTP.KnownHosts == "" && cfg.SFTP.InsecureIgnoreHostKey {
			lg.Warnw("sftp host key verification disabled", "addr", cfg.SFTP.Addr)
		}
		return blobstore.NewSFTP(ctx, blobstore.SFTPConfig{
			Addr:       cfg.SFTP.Addr,
			User:       cfg.SFTP.User,
			Password:   cfg.SFTP.Password,
			KeyFile:    cfg.SFTP.KeyFile,
			KnownHosts: cfg.SFTP.KnownHosts,
			Root:       cfg.SFTP.Root,
			Timeout:    cfg.Timeout,

			InsecureIgnoreHostKey: cfg.SFTP.InsecureIgnoreHostKey,
		})
	}
	return nil, errors.Errorf("unknown blob backend %q", cfg.Backend)
}

func setupServer(cfg *config.ServerCmdConfig, shares *services.ShareService, lg *zap.Logger) *http.Server {
	ctrl := controller.New(shares, controller.Options{
		BaseURL: cfg.Server.BaseURL,
		Limiter: middleware.NewRateLimiter(cfg.Server.UploadRate, cfg.Server.UploadBurst),
	})

	mux := chi.NewRouter()

	mux.Use(chimiddleware.Recoverer)
	mux.Use(chimiddleware.RequestID)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS", "HEAD"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         86400,
	}))
	mux.Use(chimiddleware.RealIP)
	mux.Use(middleware.InjectLogger(lg))
	mux.Use(chizap.ChizapWithConfig(lg, &chizap.Config{
		SkipPathRegexps: []*regexp.Regexp{
			regexp.MustCompile(`^/(healthz|metrics)$`),
		},
	}))
	mux.Mount("/", ctrl.Routes())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
