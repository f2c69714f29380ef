package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/go-paynotify/internal/application/dedup"
	"github.com/go-paynotify/internal/application/device"
	"github.com/go-paynotify/internal/application/ingestion"
	"github.com/go-paynotify/internal/application/instance"
	"github.com/go-paynotify/internal/application/notification"
	"github.com/go-paynotify/internal/config"
	"github.com/go-paynotify/internal/infrastructure/awscfg"
	"github.com/go-paynotify/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-paynotify/internal/infrastructure/jwt"
	s3infra "github.com/go-paynotify/internal/infrastructure/s3"
	"github.com/go-paynotify/internal/infrastructure/sns"
	"github.com/go-paynotify/internal/pkg/logger"
	transporthttp "github.com/go-paynotify/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awscfg.Load(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	dynamoClient := dynamo.NewClient(awsCfg, cfg.AWS.EndpointURL)
	if cfg.DynamoTables.Bootstrap {
		if err := dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables); err != nil {
			return fmt.Errorf("bootstrap tables: %w", err)
		}
	}
	deviceRepo := dynamo.NewDeviceRepo(dynamoClient, cfg.DynamoTables.Devices)
	instanceRepo := dynamo.NewAppInstanceRepo(dynamoClient, cfg.DynamoTables.AppInstances)
	notificationRepo := dynamo.NewNotificationRepo(dynamoClient, cfg.DynamoTables.Notifications)

	// JWT provider (optional, graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg.JWT); err == nil {
		jwtProvider = p
	} else {
		log.Warn("jwt provider not available", "err", err)
	}

	resolver := instance.NewResolver(instanceRepo)
	ingestDeps := ingestion.ServiceDeps{
		Devices:       deviceRepo,
		Instances:     resolver,
		Notifications: notificationRepo,
		Detector: dedup.New(dedup.Config{
			Window:      cfg.Dedup.Window,
			MatchAmount: cfg.Dedup.MatchAmount,
			MatchPayer:  cfg.Dedup.MatchPayer,
		}),
		Logger:     log,
		MaxRetries: cfg.Ingest.MaxRetries,
	}

	var archive *s3infra.Archive
	if cfg.S3BucketName != "" {
		archive = s3infra.NewArchive(s3infra.NewClient(awsCfg, cfg.AWS.EndpointURL), cfg.S3BucketName)
		ingestDeps.Archive = archive
	} else {
		log.Info("S3_BUCKET_NAME not set, raw submissions are not archived")
	}
	if cfg.SNSTopicARN != "" {
		ingestDeps.Publisher = sns.NewPublisher(sns.NewClient(awsCfg, cfg.AWS.EndpointURL), cfg.SNSTopicARN)
	} else {
		log.Info("SNS_TOPIC_ARN not set, stored records are not published")
	}

	services := transporthttp.Services{
		Ingestion: ingestion.NewService(ingestDeps),
		Devices:   device.NewService(deviceRepo, signerOrNil(jwtProvider)),
		Instances: resolver,
	}
	if archive != nil {
		services.Notifications = notification.NewService(notificationRepo, archive)
	} else {
		services.Notifications = notification.NewService(notificationRepo, nil)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, services, jwtProvider),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// signerOrNil keeps a nil *Provider from becoming a non-nil interface.
func signerOrNil(p *jwtinfra.Provider) interface {
	Sign(deviceID, commerceID, role string) (string, error)
} {
	if p == nil {
		return nil
	}
	return p
}
