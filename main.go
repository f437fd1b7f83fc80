// videocursor/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"videocursor/api"
	"videocursor/asset"
	"videocursor/classify"
	"videocursor/config"
	"videocursor/ffmpeg"
	"videocursor/job"
	"videocursor/resolve"
)

func initLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			return "", fmt.Sprintf("%s:%d", filename, f.Line)
		},
	})
	log.SetReportCaller(true)
	return log
}

func main() {
	log := initLogger()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Asset store (creates the data directories and asset index)
	store, err := asset.NewStore(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize asset store: %v", err)
	}

	// 3. Media engine
	runner, err := ffmpeg.NewRunner(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize ffmpeg runner: %v", err)
	}

	// 4. Instruction pipeline
	classifier := classify.NewClient(cfg.ClassifierURL, cfg.ClassifierKey, cfg.ClassifierModel, cfg.ClassifierTimeout, log)
	resolver := resolve.NewResolver(classifier, log)

	// 5. Job manager and session slots
	slots := asset.NewSlots()
	manager := job.NewManager(cfg, log, store, slots, runner)
	store.SetInFlight(manager.InFlightFor)

	// 6. Router and server
	handler := api.NewHandler(cfg, log, store, slots, resolver, manager, classifier, runner)
	router := api.SetupRouter(handler)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx)

	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s", err)
		}
	}()

	<-ctx.Done()

	stop()
	log.Info("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exiting")
}
