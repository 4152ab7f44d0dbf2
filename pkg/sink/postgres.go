package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/scaleops-labs/ghe-inventory/pkg/inventory"
	"github.com/scaleops-labs/ghe-inventory/pkg/logging"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS repositories (
	organization TEXT NOT NULL,
	repository TEXT NOT NULL,
	description TEXT,
	url TEXT,
	is_private BOOLEAN NOT NULL,
	is_internal BOOLEAN NOT NULL,
	is_public BOOLEAN NOT NULL,
	is_fork BOOLEAN NOT NULL,
	is_archived BOOLEAN NOT NULL,
	created_at TIMESTAMP,
	updated_at TIMESTAMP,
	pushed_at TIMESTAMP,
	size_kb INTEGER NOT NULL,
	default_branch TEXT,
	forks INTEGER NOT NULL,
	open_issues INTEGER NOT NULL,
	pull_requests INTEGER NOT NULL,
	releases INTEGER NOT NULL,
	branches INTEGER NOT NULL,
	tags INTEGER NOT NULL,
	workflows INTEGER NOT NULL,
	repo_webhooks INTEGER NOT NULL,
	repo_runners INTEGER NOT NULL,
	github_apps INTEGER NOT NULL,
	PRIMARY KEY (organization, repository)
);

CREATE INDEX IF NOT EXISTS idx_repositories_organization ON repositories(organization);

CREATE TABLE IF NOT EXISTS organizations (
	organization TEXT PRIMARY KEY,
	description TEXT,
	url TEXT,
	created_at TIMESTAMP,
	total_repositories INTEGER NOT NULL,
	private_repositories INTEGER NOT NULL,
	public_repositories INTEGER NOT NULL,
	internal_repositories INTEGER NOT NULL,
	archived_repositories INTEGER NOT NULL,
	fork_repositories INTEGER NOT NULL,
	org_webhooks INTEGER NOT NULL,
	org_github_apps INTEGER NOT NULL,
	org_teams INTEGER NOT NULL,
	org_runners_selfhosted INTEGER NOT NULL,
	org_runners_githubhosted INTEGER NOT NULL
);
`

var (
	postgresRepoInsert = fmt.Sprintf(
		"INSERT INTO repositories (%s) VALUES (%s) ON CONFLICT (organization, repository) DO UPDATE SET %s",
		columnList(repositoryColumns),
		dollarPlaceholders(len(repositoryColumns)),
		upsertSet(repositoryColumns, "organization", "repository"))

	postgresOrgInsert = fmt.Sprintf(
		"INSERT INTO organizations (%s) VALUES (%s) ON CONFLICT (organization) DO UPDATE SET %s",
		columnList(organizationColumns),
		dollarPlaceholders(len(organizationColumns)),
		upsertSet(organizationColumns, "organization"))
)

// PostgresSink persists both tables in PostgreSQL, upserting on the
// natural keys like the SQLite sink.
type PostgresSink struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgres connects with the given DSN, verifies the connection and
// ensures the schema exists.
func NewPostgres(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}

	s := &PostgresSink{db: db, logger: logging.NewLogger("sink")}
	s.logger.Info().Msg("Initialized Postgres output")
	return s, nil
}

// AppendRepository upserts one repository row.
func (s *PostgresSink) AppendRepository(ctx context.Context, rec *inventory.InventoryRecord) error {
	if _, err := s.db.ExecContext(ctx, postgresRepoInsert, repositoryValues(rec)...); err != nil {
		return fmt.Errorf("insert repository row: %w", err)
	}
	return nil
}

// AppendOrganization upserts one organization summary row.
func (s *PostgresSink) AppendOrganization(ctx context.Context, summary *inventory.OrgSummary) error {
	if _, err := s.db.ExecContext(ctx, postgresOrgInsert, organizationValues(summary)...); err != nil {
		return fmt.Errorf("insert organization row: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
