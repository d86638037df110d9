package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cedricfoucault/bomberman/internal/config"
	"github.com/cedricfoucault/bomberman/internal/httpapi"
	"github.com/cedricfoucault/bomberman/internal/lobby"
	"github.com/cedricfoucault/bomberman/internal/mapgen"
	"github.com/cedricfoucault/bomberman/internal/room"
	"github.com/cedricfoucault/bomberman/internal/server"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := lobby.New(ctx, cfg.LobbyAddr, lobby.Config{
		Room: room.Config{
			MaxPlayers:  cfg.MaxPlayers,
			TurnLength:  cfg.TurnLength,
			BoardWidth:  cfg.BoardWidth,
			BoardHeight: cfg.BoardHeight,
			DropStale:   cfg.DropStaleActions,
			Generate:    mapgen.Generate,
			Server:      server.Options{IdleTimeout: cfg.IdleTimeout},
		},
		Server: server.Options{IdleTimeout: cfg.IdleTimeout},
	}, logger.Named("lobby"))
	if err != nil {
		logger.Fatal("failed to start lobby", zap.Error(err))
	}
	logger.Info("lobby listening", zap.String("addr", reg.Addr().String()))

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(reg),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reg.Serve()
		return nil
	})
	g.Go(func() error {
		reg.RunListing()
		return nil
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		reg.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
