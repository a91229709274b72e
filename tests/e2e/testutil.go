package e2e

import (
	"context"
	"fmt"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/synapse/internal/config"
	"github.com/nidhogg/synapse/internal/encoder"
	"github.com/nidhogg/synapse/internal/engine"
	"github.com/nidhogg/synapse/internal/graph"
	pgstore "github.com/nidhogg/synapse/internal/store"
	"github.com/nidhogg/synapse/internal/vector"
)

// Package-level shared state — set by TestMain, used by all tests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testNeo4jURI string
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("synapse_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startNeo4j starts a Neo4j testcontainer, returns bolt URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// newTestEngine assembles an engine over the shared containers. The graph
// backend is in-memory unless useNeo4j is set; persistence always goes to the
// shared PostgreSQL.
func newTestEngine(useNeo4j bool, opts engine.Options) (*engine.Engine, func(), error) {
	cfg := config.Default()

	enc, err := encoder.New(encoder.NewHashProvider(64), 0, testLogger)
	if err != nil {
		return nil, nil, err
	}

	var g graph.Graph
	cleanup := func() {}
	if useNeo4j {
		ng, err := graph.NewNeo4j(testNeo4jURI, "", "", cfg.Engine.EdgeHalfLifeHours, testLogger)
		if err != nil {
			return nil, nil, err
		}
		g = ng
		cleanup = func() { ng.Close(context.Background()) }
	} else {
		g = graph.NewMemory(cfg.Engine.EdgeHalfLifeHours, testLogger)
	}

	eng := engine.New(cfg, enc, vector.NewFlat(), g, opts, testLogger)
	return eng, cleanup, nil
}
