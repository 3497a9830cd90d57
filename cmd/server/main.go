package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/1905060202/image-ai-processor/internal/api"
	"github.com/1905060202/image-ai-processor/internal/auth"
	"github.com/1905060202/image-ai-processor/internal/config"
	"github.com/1905060202/image-ai-processor/internal/database"
	"github.com/1905060202/image-ai-processor/internal/provider"
	"github.com/1905060202/image-ai-processor/internal/repository"
	"github.com/1905060202/image-ai-processor/internal/service"
	"github.com/1905060202/image-ai-processor/internal/storage"
	"github.com/1905060202/image-ai-processor/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	imageRepo := repository.NewImageRepository(db)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	var doubao provider.Client
	if cfg.DoubaoAPIKey != "" {
		doubao = provider.NewDoubaoClient(cfg, logr)
	}
	var nanoBanana provider.Client
	if cfg.NanoBananaAPIKey != "" {
		nanoBanana = provider.NewNanoBananaClient(cfg, logr)
	}
	normalizer := provider.NewNormalizer(&http.Client{Timeout: 30 * time.Second})

	authSvc := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	userService := service.NewUserService(userRepo)
	creditService := service.NewCreditService(cfg, userRepo, ledgerRepo)
	generationService := service.NewGenerationService(cfg, logr, creditService, imageRepo, uploader, doubao, nanoBanana, normalizer)
	imageService := service.NewImageService(logr, imageRepo, uploader)

	server := api.NewServer(cfg.ListenAddr, logr, authSvc, userService, creditService, generationService, imageService)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
