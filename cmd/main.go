package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"resume-pipeline/cache"
	"resume-pipeline/config"
	"resume-pipeline/domain"
	"resume-pipeline/infrastructure"
	"resume-pipeline/interfaces"
	"resume-pipeline/pipeline"
	"resume-pipeline/ratelimit"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	// Every external client is built here, once, and injected. Nothing in
	// the pipeline constructs its own connections lazily.
	db, err := infrastructure.NewMySQLConnection(cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("database startup failed")
	}
	store := infrastructure.NewMySQLStatusStore(db)

	storage, err := infrastructure.NewLocalStorage(cfg.StorageDir)
	if err != nil {
		log.WithError(err).Fatal("storage startup failed")
	}

	cacheTTL := time.Duration(cfg.CacheTTLHours) * time.Hour
	var resultCache *cache.ResultCache
	if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
		log.WithError(err).Warn("invalid REDIS_URL, result cache disabled")
		resultCache = cache.NewResultCache(nil, cacheTTL, log)
	} else {
		resultCache = cache.NewResultCache(redis.NewClient(opt), cacheTTL, log)
	}

	scorer, err := infrastructure.NewGeminiScorer(cfg.GeminiKey)
	if err != nil {
		log.WithError(err).Fatal("scorer startup failed")
	}

	var audit domain.AuditSink
	if cfg.AMQPURL != "" {
		amqpSink, err := infrastructure.NewAMQPAuditSink(cfg.AMQPURL, log)
		if err != nil {
			log.WithError(err).Warn("audit queue unreachable, falling back to log sink")
			audit = infrastructure.NewLogAuditSink(log)
		} else {
			defer amqpSink.Close()
			audit = amqpSink
		}
	} else {
		audit = infrastructure.NewLogAuditSink(log)
	}

	orchestrator := pipeline.New(
		store,
		storage,
		infrastructure.NewFileExtractor(),
		infrastructure.NewHeuristicParser(),
		scorer,
		resultCache,
		audit,
		pipeline.GoRunner{},
		log,
		pipeline.Options{
			MinTextLength: cfg.MinTextLength,
			CacheTTL:      cacheTTL,
		},
	)

	gates := interfaces.Gates{
		Default: ratelimit.New(cfg.DefaultGate.Limit, cfg.DefaultGate.WindowSeconds),
		Strict:  ratelimit.New(cfg.StrictGate.Limit, cfg.StrictGate.WindowSeconds),
		AI:      ratelimit.New(cfg.AIGate.Limit, cfg.AIGate.WindowSeconds),
	}

	router := gin.Default()
	interfaces.NewHTTPHandler(router, store, storage, orchestrator, resultCache, gates)

	log.WithField("port", cfg.Port).Info("server starting")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
