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
	"time"

	"github.com/fatih/color"

	"github.com/Tyrowin/relaychat/internal/chatlog"
	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relaychat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Config{Level: config.LogLevel, Format: config.LogFormat})

	store, err := chatlog.Open(config.StoreBackend, config.StoreDSN, config.StoreToken)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("error closing message log", "error", err)
		}
	}()
	log.Info("message log ready", "backend", config.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, config, store, log)
	if err != nil {
		return err
	}
	srv.StartHub()

	httpServer := server.CreateServer(config.Port, srv.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()
	color.New(color.FgCyan).Printf("Server http://localhost%s\n", config.Port)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	if err := srv.Hub().Shutdown(shutdownTimeout); err != nil {
		log.Warn("hub shutdown incomplete", "error", err)
	}
	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		return err
	}
	return nil
}
