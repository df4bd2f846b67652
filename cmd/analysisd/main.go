package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"formsight/config"
	"formsight/internal/cache"
	"formsight/internal/repository"
	"formsight/internal/service"
	"formsight/internal/store"
	"formsight/internal/transport/feed"
)

func main() {
	log.Println("started")
	ctx := context.Background()

	cfg := config.Load()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal("Failed to ping MongoDB:", err)
	}
	log.Println("Connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDatabase)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal("Failed to ping Redis:", err)
	}
	log.Println("Connected to Redis")

	// Initialize repositories
	questionnaireRepo := repository.NewQuestionnaireRepo(db)
	profileRepo := repository.NewProfileRepo(db)
	sessionRepo := repository.NewSessionRepo(db)

	// Initialize snapshot storage and services
	snapshots := cache.NewSnapshotStore(rdb)
	queryClient := service.NewQueryClient(cfg.QueryBaseURL, cfg.QueryJWTSecret)
	ingestSvc := service.NewIngestService(questionnaireRepo, profileRepo, sessionRepo)

	// Store registry: one cache per questionnaire slug
	registry := store.NewRegistry(snapshots, snapshots, queryClient)
	defer registry.Close()

	for _, slug := range cfg.Questionnaires {
		handle := registry.GetOrCreate(ctx, slug)
		if err := ingestSvc.WarmStore(ctx, handle.Store); err != nil {
			log.Printf("Warning: failed to warm store %s: %v", slug, err)
		}
	}

	// Session event feed: completed sessions trigger incremental sync,
	// connectivity transitions drive the engines' online state.
	feedClient := feed.NewClient(cfg.FeedURL, func(ev feed.Event) {
		if ev.Type != feed.EventSessionCompleted {
			return
		}
		go func() {
			if err := registry.SyncQuestionnaire(context.Background(), ev.QuestionnaireID); err != nil {
				log.Printf("Warning: sync for %s failed: %v", ev.QuestionnaireID, err)
			}
		}()
	}, registry.SetOnline)
	feedClient.Start()
	log.Printf("Feed client started (%s)", cfg.FeedURL)

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	feedClient.Stop()
	registry.Close()

	log.Println("Exited")
}
