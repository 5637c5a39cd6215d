// Command sprocd serves stored procedures over HTTP.
//
//	sprocd -config /etc/sproc/sproc.yaml
//
// SPROC_DSN, SPROC_DRIVER and SPROC_LOG_LEVEL override the file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/koustreak/sproc/internal/config"
	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/database/mysql"
	"github.com/koustreak/sproc/internal/database/postgres"
	"github.com/koustreak/sproc/internal/filestore/minio"
	"github.com/koustreak/sproc/internal/logger"
	"github.com/koustreak/sproc/internal/mapping"
	"github.com/koustreak/sproc/internal/procedure"
	"github.com/koustreak/sproc/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "sprocd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(&cfg.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := openProvider(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer provider.Close()

	exec := procedure.New(provider,
		procedure.WithMapper(mapping.NewMapper(cfg.MappingPolicy())),
		procedure.WithLogger(log.With().Str("component", "executor").Logger()),
		procedure.WithTimeout(cfg.Database.QueryTimeout),
	)

	opts := []server.Option{
		server.WithLogger(log.With().Str("component", "http").Logger()),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if cfg.Export.Enabled() {
		store, err := minio.New(ctx, &cfg.Export)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureBucket(ctx, cfg.Export.Bucket); err != nil {
			return err
		}
		opts = append(opts, server.WithExport(store, cfg.Export.Bucket, cfg.Export.PresignTTL))
		log.InfoWith("export enabled", logger.Fields{"endpoint": cfg.Export.Endpoint, "bucket": cfg.Export.Bucket})
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(exec, opts...).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoWith("listening", logger.Fields{"addr": cfg.Server.Addr, "driver": string(cfg.Database.Driver)})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openProvider(ctx context.Context, cfg *database.Config) (database.Provider, error) {
	if cfg.Driver == database.DriverMySQL {
		d, err := mysql.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	d, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}
