package main

import (
	"context"
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/wallethub/adapters/attest"
	"github.com/layer-3/wallethub/adapters/events"
	"github.com/layer-3/wallethub/adapters/store"
	"github.com/layer-3/wallethub/auth"
	"github.com/layer-3/wallethub/biometric"
	"github.com/layer-3/wallethub/config"
	"github.com/layer-3/wallethub/policy"
	"github.com/layer-3/wallethub/ports"
	"github.com/layer-3/wallethub/service"
	"github.com/layer-3/wallethub/transport/http"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	logger := watermill.NewStdLogger(false, false)

	var keyedStore ports.KeyedStore
	var eventPub ports.EventPublisher

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient := redis.NewClient(opts)

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			logger,
		)
		if err != nil {
			log.Fatalf("Failed to create Redis publisher: %v", err)
		}

		keyedStore = store.NewRedisStore(redisClient)
		eventPub = events.NewWatermillPublisher(publisher)

		logger.Info("using redis keyed store", nil)
	} else {
		keyedStore = store.NewMemoryStore()
		logger.Info("REDIS_URL not set, using in-memory keyed store", nil)
	}

	attestor := attest.NewJWTAttestor([]byte(cfg.AttestationSecret))
	verifier := biometric.NewVerifier(cfg)
	enforcer := policy.NewEnforcer()

	sessionKeys := service.NewSessionKeyService(cfg, keyedStore, eventPub, attestor, verifier, enforcer, logger)
	authenticator := auth.NewAuthenticator(cfg, keyedStore, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := service.NewSweeper(sessionKeys, cfg.SweepInterval, logger)
	go sweeper.Start(ctx)

	router := http.SetupRouter(sessionKeys, authenticator)

	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
