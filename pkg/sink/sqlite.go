package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/scaleops-labs/ghe-inventory/pkg/inventory"
	"github.com/scaleops-labs/ghe-inventory/pkg/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS repositories (
	organization TEXT NOT NULL,
	repository TEXT NOT NULL,
	description TEXT,
	url TEXT,
	is_private INTEGER NOT NULL,
	is_internal INTEGER NOT NULL,
	is_public INTEGER NOT NULL,
	is_fork INTEGER NOT NULL,
	is_archived INTEGER NOT NULL,
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
	sqliteRepoInsert = fmt.Sprintf(
		"INSERT OR REPLACE INTO repositories (%s) VALUES (%s)",
		columnList(repositoryColumns), placeholders(len(repositoryColumns)))

	sqliteOrgInsert = fmt.Sprintf(
		"INSERT OR REPLACE INTO organizations (%s) VALUES (%s)",
		columnList(organizationColumns), placeholders(len(organizationColumns)))
)

// SQLiteSink persists both tables in one SQLite database file. Rows
// upsert on their natural keys, so rerunning a crawl refreshes the same
// database instead of duplicating it.
type SQLiteSink struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLite opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	s := &SQLiteSink{db: db, logger: logging.NewLogger("sink")}
	s.logger.Info().Str("path", path).Msg("Initialized SQLite output")
	return s, nil
}

// AppendRepository upserts one repository row.
func (s *SQLiteSink) AppendRepository(ctx context.Context, rec *inventory.InventoryRecord) error {
	if _, err := s.db.ExecContext(ctx, sqliteRepoInsert, repositoryValues(rec)...); err != nil {
		return fmt.Errorf("insert repository row: %w", err)
	}
	return nil
}

// AppendOrganization upserts one organization summary row.
func (s *SQLiteSink) AppendOrganization(ctx context.Context, summary *inventory.OrgSummary) error {
	if _, err := s.db.ExecContext(ctx, sqliteOrgInsert, organizationValues(summary)...); err != nil {
		return fmt.Errorf("insert organization row: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
