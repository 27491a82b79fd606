// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/auth"
	"github.com/aralila/storychain/internal/cache"
	"github.com/aralila/storychain/internal/database"
	"github.com/aralila/storychain/internal/handlers"
	"github.com/aralila/storychain/internal/middleware"
)

func main() {
	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	// Postgres and Redis are optional backends. Without PG_HOST finished
	// games are not persisted; without REDIS_ADDR the action feed is off.
	if os.Getenv("PG_HOST") != "" {
		database.ConnectDB()
	} else {
		logger.Info("PG_HOST not set, running without persistence")
	}
	if os.Getenv("REDIS_ADDR") != "" {
		if err := cache.ConnectRedis(); err != nil {
			log.Fatalf("redis connect error: %v", err)
		}
	} else {
		logger.Info("REDIS_ADDR not set, running without the action feed")
	}

	srv := handlers.NewStoryServer(logger)

	mux := http.NewServeMux()

	// lobby ws
	mux.Handle("/ws/lobby/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.LobbyWSHandler(logger, srv),
	)))

	// story game ws
	mux.Handle("/ws/story/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.StoryWSHandler(logger, srv),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Infof("Running on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server exited: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown error: %v", err)
	}
	if database.DB != nil {
		database.DB.Close()
	}
}
