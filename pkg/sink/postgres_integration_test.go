//go:build integration

package sink

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a Postgres container and returns a DSN
func setupPostgres(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "inventory",
			"POSTGRES_PASSWORD": "inventory",
			"POSTGRES_DB":       "inventory",
		},
		// Postgres restarts once during init, so wait for the second
		// ready line.
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}

	endpoint, err := pgContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Postgres endpoint: %v", err)
	}

	cleanup := func() {
		pgContainer.Terminate(ctx)
	}

	return fmt.Sprintf("postgres://inventory:inventory@%s/inventory?sslmode=disable", endpoint), cleanup
}

func TestPostgresSink_Integration_RoundTrip(t *testing.T) {
	dsn, cleanup := setupPostgres(t)
	defer cleanup()

	s, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.AppendRepository(ctx, testRecord()); err != nil {
		t.Fatalf("AppendRepository: %v", err)
	}
	if err := s.AppendOrganization(ctx, testSummary()); err != nil {
		t.Fatalf("AppendOrganization: %v", err)
	}

	var repos, orgs int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM repositories").Scan(&repos); err != nil {
		t.Fatalf("count repositories: %v", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM organizations").Scan(&orgs); err != nil {
		t.Fatalf("count organizations: %v", err)
	}
	if repos != 1 || orgs != 1 {
		t.Fatalf("rows = %d repositories / %d organizations, want 1/1", repos, orgs)
	}

	var (
		isInternal   bool
		sizeKB       int
		pushedAtNull bool
	)
	err = s.db.QueryRow(`
		SELECT is_internal, size_kb, pushed_at IS NULL
		FROM repositories WHERE organization = $1 AND repository = $2`,
		"acme", "web-app").Scan(&isInternal, &sizeKB, &pushedAtNull)
	if err != nil {
		t.Fatalf("select repository row: %v", err)
	}
	if !isInternal {
		t.Error("is_internal = false, want true")
	}
	if sizeKB != 512 {
		t.Errorf("size_kb = %d, want 512", sizeKB)
	}
	if !pushedAtNull {
		t.Error("pushed_at should be NULL for the zero time")
	}
}

func TestPostgresSink_Integration_RerunUpserts(t *testing.T) {
	dsn, cleanup := setupPostgres(t)
	defer cleanup()

	s, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	rec := testRecord()
	if err := s.AppendRepository(ctx, rec); err != nil {
		t.Fatalf("AppendRepository: %v", err)
	}

	rec.Derived.SizeKB = 2048
	if err := s.AppendRepository(ctx, rec); err != nil {
		t.Fatalf("AppendRepository (rerun): %v", err)
	}

	summary := testSummary()
	if err := s.AppendOrganization(ctx, summary); err != nil {
		t.Fatalf("AppendOrganization: %v", err)
	}
	summary.TotalRepos = 11
	if err := s.AppendOrganization(ctx, summary); err != nil {
		t.Fatalf("AppendOrganization (rerun): %v", err)
	}

	var count, sizeKB int
	if err := s.db.QueryRow("SELECT COUNT(*), MAX(size_kb) FROM repositories").Scan(&count, &sizeKB); err != nil {
		t.Fatalf("count repositories: %v", err)
	}
	if count != 1 || sizeKB != 2048 {
		t.Errorf("repositories = %d rows / size_kb %d, want 1/2048", count, sizeKB)
	}

	var orgCount, totalRepos int
	if err := s.db.QueryRow("SELECT COUNT(*), MAX(total_repositories) FROM organizations").Scan(&orgCount, &totalRepos); err != nil {
		t.Fatalf("count organizations: %v", err)
	}
	if orgCount != 1 || totalRepos != 11 {
		t.Errorf("organizations = %d rows / %d total, want 1/11", orgCount, totalRepos)
	}
}
