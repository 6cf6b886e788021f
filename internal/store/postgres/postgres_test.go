package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JonMunkholm/domainkeeper/internal/config"
	"github.com/JonMunkholm/domainkeeper/internal/database"
	"github.com/JonMunkholm/domainkeeper/internal/record"
	"github.com/JonMunkholm/domainkeeper/internal/store"
	"github.com/JonMunkholm/domainkeeper/internal/store/storetest"
)

type testDB struct {
	container testcontainers.Container
	pool      *pgxpool.Pool
}

var (
	sharedDB     *testDB
	sharedDBOnce sync.Once
	sharedDBErr  error
)

// getTestDB starts one PostgreSQL container per test binary and applies migrations.
func getTestDB(t *testing.T) *testDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedDBOnce.Do(func() {
		sharedDB, sharedDBErr = setupTestDB()
	})
	if sharedDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedDBErr)
	}
	return sharedDB
}

func setupTestDB() (*testDB, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "domainkeeper",
				"POSTGRES_USER":     "keeper",
				"POSTGRES_PASSWORD": "test_password",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("container port: %w", err)
	}

	url := fmt.Sprintf("postgres://keeper:test_password@%s:%s/domainkeeper?sslmode=disable", host, port.Port())
	if err := database.Migrate(url); err != nil {
		return nil, err
	}

	pool, err := database.Connect(ctx, config.DatabaseConfig{
		URL:             url,
		MaxConns:        8,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	})
	if err != nil {
		return nil, err
	}
	return &testDB{container: container, pool: pool}, nil
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	db := getTestDB(t)
	_, err := db.pool.Exec(context.Background(), `TRUNCATE domains CASCADE`)
	require.NoError(t, err)
	return New(db.pool)
}

func TestContract(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestInsertCurrentRow_ConflictKeepsTxUsable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d, err := s.CreateDomain(ctx, store.Domain{TenantID: "t", Name: "d", BusinessKey: []string{"id"}})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx store.Store) error {
		row := store.CurrentRow{DomainID: d.ID, KeyHash: "h", Record: record.Record{"id": record.Int(1)}}
		require.NoError(t, tx.InsertCurrentRow(ctx, row))
		assert.Error(t, tx.InsertCurrentRow(ctx, row))

		row.KeyHash = "h2"
		return tx.InsertCurrentRow(ctx, row)
	})
	require.NoError(t, err)

	n, err := s.CountCurrentRows(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLockDomain_SerializesWriters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d, err := s.CreateDomain(ctx, store.Domain{TenantID: "t", Name: "d"})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	held := make(chan struct{})
	release := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithTx(ctx, func(tx store.Store) error {
			if err := tx.LockDomain(ctx, d.ID); err != nil {
				return err
			}
			close(held)
			<-release
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil
		})
	}()

	<-held
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithTx(ctx, func(tx store.Store) error {
			if err := tx.LockDomain(ctx, d.ID); err != nil {
				return err
			}
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
}
