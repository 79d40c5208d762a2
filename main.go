package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fileglancer/config"
	"fileglancer/dao/query"
	"fileglancer/fileproxy"
	"fileglancer/fsp"
	"fileglancer/logutils"
	"fileglancer/proxied"
	"fileglancer/service"
	"fileglancer/usercontext"
	"fileglancer/util"
	"fileglancer/wiki"

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to config.yaml")
	initConfig := flag.String("init-config", "", "write the default configuration to this path and exit")
	flag.Parse()

	if *initConfig != "" {
		if err := config.WriteDefault(*initConfig); err != nil {
			logutils.Log.Fatal(err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logutils.Log.Fatal(err)
	}
	logutils.SetLevel(cfg.LogLevel)
	logutils.SetReportCaller(cfg.LogLevel == "trace")
	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		logutils.Log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := query.Open(cfg)
	if err != nil {
		return err
	}

	identity, err := usercontext.New(cfg.UseAccessFlags, cfg.Server.MaxIdentityWorkers)
	if err != nil {
		return err
	}

	deps := service.Deps{
		Config:   cfg,
		DB:       db,
		Identity: identity,
		Tokens:   util.NewTokenManager(cfg.Auth),
	}
	if cfg.StaticMode() {
		store, err := fsp.NewStaticStore(cfg.FileShareMounts)
		if err != nil {
			return err
		}
		deps.Paths = store
		logutils.Log.WithField("mounts", len(cfg.FileShareMounts)).Info("Serving file share paths from configuration")
	} else {
		store := fsp.NewDBStore(db, wiki.New(cfg.Confluence), fsp.Options{
			StalenessWindow:  cfg.FileSharePaths.StalenessWindow,
			MaxPathsToDelete: cfg.FileSharePaths.MaxPathsToDelete,
			FetchTimeout:     cfg.Confluence.Timeout,
		})
		deps.Paths = store
		deps.Refresher = store
		go store.Run(ctx, cfg.FileSharePaths.SyncInterval)
	}
	deps.Registry = proxied.NewRegistry(db, deps.Paths)
	deps.Proxy = fileproxy.NewDispatcher(deps.Registry, identity, fileproxy.Options{FSTimeout: cfg.Server.FSTimeout})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           service.New(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logutils.Log.WithField("address", cfg.Server.Address).Info("Fileglancer listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logutils.Log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
