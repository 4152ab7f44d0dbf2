package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scaleops-labs/ghe-inventory/pkg/inventory"
	"github.com/scaleops-labs/ghe-inventory/pkg/logging"
)

// CSVSink writes the repository and organization tables as two CSV
// files. Each file gets its header on creation and one flushed row per
// append, so a run killed halfway leaves readable partial output.
type CSVSink struct {
	mu       sync.Mutex
	repoFile *os.File
	repoCSV  *csv.Writer
	orgFile  *os.File
	orgCSV   *csv.Writer
	logger   zerolog.Logger
}

// NewCSV creates both CSV files, truncating leftovers from earlier
// runs, and writes the headers.
func NewCSV(repoPath, orgPath string) (*CSVSink, error) {
	s := &CSVSink{logger: logging.NewLogger("sink")}

	var err error
	s.repoFile, s.repoCSV, err = createTable(repoPath, repositoryColumns)
	if err != nil {
		return nil, err
	}
	s.orgFile, s.orgCSV, err = createTable(orgPath, organizationColumns)
	if err != nil {
		s.repoFile.Close()
		return nil, err
	}

	s.logger.Info().
		Str("repository_csv", repoPath).
		Str("organization_csv", orgPath).
		Msg("Initialized CSV output")
	return s, nil
}

func createTable(path string, columns []string) (*os.File, *csv.Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("write header to %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("flush header to %s: %w", path, err)
	}
	return f, w, nil
}

// AppendRepository writes one repository row.
func (s *CSVSink) AppendRepository(_ context.Context, rec *inventory.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendRow(s.repoCSV, repositoryValues(rec)); err != nil {
		return fmt.Errorf("append repository row: %w", err)
	}
	return nil
}

// AppendOrganization writes one organization summary row.
func (s *CSVSink) AppendOrganization(_ context.Context, summary *inventory.OrgSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendRow(s.orgCSV, organizationValues(summary)); err != nil {
		return fmt.Errorf("append organization row: %w", err)
	}
	return nil
}

// Close flushes and closes both files.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.repoCSV.Flush()
	s.orgCSV.Flush()

	err := s.repoCSV.Error()
	if e := s.orgCSV.Error(); err == nil {
		err = e
	}
	if e := s.repoFile.Close(); err == nil {
		err = e
	}
	if e := s.orgFile.Close(); err == nil {
		err = e
	}
	return err
}

// appendRow writes one row and flushes it to disk immediately.
func appendRow(w *csv.Writer, values []any) error {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = csvField(v)
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
