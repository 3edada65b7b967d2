package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fakharkhan/canvasly/internal/app"
	"github.com/fakharkhan/canvasly/internal/blob"
	"github.com/fakharkhan/canvasly/internal/config"
	"github.com/fakharkhan/canvasly/internal/notify"
	"github.com/fakharkhan/canvasly/internal/proxy"
	"github.com/fakharkhan/canvasly/internal/screenshot"
	"github.com/fakharkhan/canvasly/internal/search"
	"github.com/fakharkhan/canvasly/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	blobs, err := blob.New(ctx, blob.Options{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.PublicBlobURL,
	})
	if err != nil {
		log.Fatalf("blob storage failed: %v", err)
	}

	var broker *notify.Broker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		broker, err = notify.NewBroker(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer broker.Close()
	} else {
		log.Printf("REDIS_URL not set, thumbnail broadcasts disabled")
	}

	capturer := screenshot.NewChromeCapturer(cfg.ScreenshotTimeout)
	var publisher screenshot.Publisher
	if broker != nil {
		publisher = broker
	}
	producer := screenshot.NewProducer(capturer, dataStore, blobs, publisher, cfg.ScreenshotQueue)
	producer.Start(ctx)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	proxyService := proxy.New(cfg.ProxyTimeout, cfg.ProxyUserAgent)

	service := app.New(cfg, dataStore, blobs, producer, proxyService, searchService)
	service.Overlays().StartJanitor(ctx, time.Minute)

	if broker != nil {
		updates, err := broker.Subscribe(ctx)
		if err != nil {
			log.Fatalf("redis subscribe failed: %v", err)
		}
		service.Cards().Watch(ctx, updates)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Canvasly API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	producer.Wait()
}
