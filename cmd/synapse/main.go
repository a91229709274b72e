package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nidhogg/synapse/internal/api"
	"github.com/nidhogg/synapse/internal/config"
	"github.com/nidhogg/synapse/internal/encoder"
	"github.com/nidhogg/synapse/internal/engine"
	"github.com/nidhogg/synapse/internal/events"
	"github.com/nidhogg/synapse/internal/graph"
	pgstore "github.com/nidhogg/synapse/internal/store"
	"github.com/nidhogg/synapse/internal/vector"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Synapse...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/synapse.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Embedding provider
	var provider encoder.Provider
	switch cfg.Embedding.Provider {
	case "api":
		provider = encoder.NewAPIProvider(encoder.ProviderConfig{
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
		})
	default:
		provider = encoder.NewHashProvider(cfg.Embedding.Dimension)
	}
	enc, err := encoder.New(provider, cfg.Embedding.CacheSize, logger)
	if err != nil {
		logger.Fatal("failed to build encoder", zap.Error(err))
	}

	// Vector index backend
	var index vector.Index
	switch cfg.Vector.Backend {
	case "qdrant":
		q, qerr := vector.NewQdrant(context.Background(), vector.QdrantConfig{
			Host:       cfg.Database.Qdrant.Host,
			Port:       cfg.Database.Qdrant.Port,
			Collection: cfg.Database.Qdrant.Collection,
		}, enc.Dimension())
		if qerr != nil {
			logger.Fatal("qdrant unavailable", zap.Error(qerr))
		}
		defer q.Close()
		index = q
	case "chromem":
		c, cerr := vector.NewChromem(cfg.Vector.Path, "memories", logger)
		if cerr != nil {
			logger.Fatal("chromem unavailable", zap.Error(cerr))
		}
		index = c
	default:
		index = vector.NewFlat()
	}

	// Associative graph backend
	var g graph.Graph
	switch cfg.Graph.Backend {
	case "neo4j":
		n4j, gerr := graph.NewNeo4j(
			cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password,
			cfg.Engine.EdgeHalfLifeHours, logger)
		if gerr != nil {
			logger.Fatal("neo4j unavailable", zap.Error(gerr))
		}
		defer n4j.Close(context.Background())
		g = n4j
	default:
		g = graph.NewMemory(cfg.Engine.EdgeHalfLifeHours, logger)
	}

	// Optional PostgreSQL snapshot persistence
	var db *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			db = ps
		}
	}

	// Optional Redis Streams event bus
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, "", logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without events", zap.Error(busErr))
		} else {
			bus = b
		}
	}

	eng := engine.New(cfg, enc, index, g, engine.Options{
		Persister: db,
		Bus:       bus,
	}, logger)

	if err := eng.LoadSnapshot(context.Background()); err != nil {
		logger.Warn("failed to load snapshot", zap.Error(err))
	}

	eng.Start(cfg.Engine.SweepInterval())

	// Build HTTP handler
	handler := api.NewHandler(eng, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Synapse listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Synapse...")
	srv.Shutdown(context.Background())
	eng.Stop()
	if bus != nil {
		bus.Close()
	}
	if db != nil {
		db.Close()
	}
}
