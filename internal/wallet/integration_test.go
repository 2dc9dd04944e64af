package wallet

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"crashloop/internal/config"
	"crashloop/internal/database"
)

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if testing.Short() || os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("integration tests disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	defer provider.Close()

	if _, err := provider.DaemonHost(ctx); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	skipWithoutDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func startPostgres(t *testing.T) database.Service {
	t.Helper()
	skipWithoutDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(
		ctx,
		"postgres:latest",
		postgres.WithDatabase("wallet"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	port, _ := strconv.Atoi(mapped.Port())

	cfg := config.DatabaseConfig{
		Host: host, Port: port, Name: "wallet", User: "user", Password: "password",
		Schema: "public", SSLMode: "disable", MaxConns: 20, MinConns: 1,
	}

	db, err := database.Open(cfg.URL())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.Close()

	srv, err := database.New(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func TestRedisStore(t *testing.T) {
	client := startRedis(t)

	runStoreContract(t, func(t *testing.T) Store {
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		return NewRedisStore(client, dec("50"))
	})
}

func TestPostgresStore(t *testing.T) {
	srv := startPostgres(t)

	runStoreContract(t, func(t *testing.T) Store {
		if _, err := srv.Pool().Exec(context.Background(), `TRUNCATE accounts CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewPostgresStore(srv.Pool(), dec("50"))
	})
}
