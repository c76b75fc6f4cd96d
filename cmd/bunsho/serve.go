package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/server"
	"github.com/hyperjump/bunsho/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and watch the configured directories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, configPath, logger, components, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()

		watchSvc := watcher.New(components.Indexer, watcher.Options{
			Roots:      cfg.Watch.Directories,
			Extensions: cfg.Watch.Extensions,
			Recursive:  cfg.Watch.RecursiveOrDefault(),
			Debounce:   cfg.Watch.Debounce,
		}, watcher.WithLogger(logger))

		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watchSvc.Start(watchCtx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer watchSvc.Stop()
		watchSvc.SyncExistingFiles()

		srv := server.NewServer(server.Dependencies{
			Search:  components.Engine,
			Render:  components.Render,
			Indexer: components.Indexer,
			Storage: components.Storage,
			Vectors: components.Vectors,
		}, cfg, logger, server.WithWatch(watchSvc, configPath))

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case sig := <-sigChan:
			logger.Info("Shutting down server", zap.String("signal", sig.String()))
		}

		watchCancel()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the directories a running server watches",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Watch a directory and ingest its existing files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		body := map[string]interface{}{"path": path, "sync": true}
		if err := newAPIClient(watchServerURL()).do(http.MethodPost, "/api/v1/watch/directories", body, nil, http.StatusCreated); err != nil {
			return fmt.Errorf("add failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", path)
		return nil
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Stop watching a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := newAPIClient(watchServerURL()).do(http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, nil, http.StatusOK); err != nil {
			return fmt.Errorf("remove failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", path)
		return nil
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched directories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := newAPIClient(watchServerURL()).do(http.MethodGet, "/api/v1/watch/directories", nil, &out, http.StatusOK); err != nil {
			return fmt.Errorf("list failed: %w", err)
		}
		for _, d := range out.Directories {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

var flagWatchServer string

// watchServerURL returns the server the watch commands talk to. They have no
// direct mode since the watcher lives in the server process.
func watchServerURL() string {
	if flagWatchServer == "" {
		return defaultServerURL
	}
	return flagWatchServer
}

const defaultServerURL = "http://localhost:8080"

func init() {
	watchCmd.PersistentFlags().StringVar(&flagWatchServer, "server", defaultServerURL, "server URL")
	watchCmd.AddCommand(watchAddCmd, watchRemoveCmd, watchListCmd)
	rootCmd.AddCommand(serveCmd, watchCmd)
}
