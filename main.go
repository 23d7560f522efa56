package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"auctionhouse/api"
)

func main() {
	args := ParseArgs()
	if err := args.Validate(); err != nil {
		panic(err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(args.LogLevel)); err != nil {
		panic(err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	impl, err := api.NewServer(args.ServerConfig, api.WithServerLogger(logger))
	if err != nil {
		panic(err)
	}
	defer impl.Close()
	if args.Migrate {
		if err := impl.Migrate(); err != nil {
			panic(err)
		}
	}
	impl.Start()

	router := gin.Default()
	impl.RegisterHandlers(router)
	server := &http.Server{Addr: args.ServerURL, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdown := make(chan struct{})
	go func() {
		defer close(shutdown)
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), args.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Fail to shut down server", slog.Any("error", err))
		}
	}()

	logger.Info("Listening", slog.String("addr", args.ServerURL))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
	<-shutdown
}
