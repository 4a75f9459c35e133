package eventsink

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/edgevision/aibox/internal/apperrors"
	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
)

// PostgresSink writes EventRecords to a Postgres table and spools to a local
// file when the database write fails.
type PostgresSink struct {
	db   *sql.DB
	log  *obslog.Logger

	mu          sync.Mutex
	spoolDir    string
	maxSpoolSize int64
}

// Open opens a Postgres connection pool (driver "postgres", via lib/pq).
func Open(dsn string, spoolDir string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.New(apperrors.BackendUnavailable, "eventsink.Open", err)
	}
	if spoolDir == "" {
		spoolDir = filepath.Join(os.TempDir(), "aibox-event-spool")
	}
	_ = os.MkdirAll(spoolDir, 0o750)
	return &PostgresSink{
		db:           db,
		log:          obslog.New("eventsink"),
		spoolDir:     spoolDir,
		maxSpoolSize: 1024 * 1024 * 1024,
	}, nil
}

// NewWithDB wraps an already-open *sql.DB, primarily for tests against
// go-sqlmock.
func NewWithDB(db *sql.DB, spoolDir string) *PostgresSink {
	if spoolDir == "" {
		spoolDir = filepath.Join(os.TempDir(), "aibox-event-spool")
	}
	_ = os.MkdirAll(spoolDir, 0o750)
	return &PostgresSink{db: db, log: obslog.New("eventsink"), spoolDir: spoolDir, maxSpoolSize: 1024 * 1024 * 1024}
}

// InsertEvent attempts a DB write; on failure it spools to disk and still
// reports success, since the clip file itself must never be deleted on a
// persistence failure (spec.md §4.8).
func (s *PostgresSink) InsertEvent(ctx context.Context, rec model.EventRecord) bool {
	const query = `
		INSERT INTO event_records (camera_id, type, path, confidence, metadata, timestamp_utc)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, rec.CameraID, rec.Type, rec.Path, rec.Confidence, rec.Metadata, rec.TimestampUTC)
	if err == nil {
		return true
	}

	s.log.Warnf("db write failed, spooling: %v", err)
	if spoolErr := s.spool(rec); spoolErr != nil {
		s.log.Errorf("spool failed for event camera=%s path=%s: %v", rec.CameraID, rec.Path, spoolErr)
		return false
	}
	return true
}

func (s *PostgresSink) spool(rec model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spoolSize() >= s.maxSpoolSize {
		if err := s.rotateSpool(); err != nil {
			return fmt.Errorf("spool full and rotation failed: %w", err)
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(s.spoolDir, "events.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.Flush()
}

func (s *PostgresSink) spoolSize() int64 {
	var size int64
	_ = filepath.Walk(s.spoolDir, func(_ string, info fs.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

func (s *PostgresSink) rotateSpool() error {
	path := filepath.Join(s.spoolDir, "events.log")
	return os.Rename(path, path+"."+time.Now().UTC().Format("20060102T150405"))
}

// Close closes the underlying connection pool.
func (s *PostgresSink) Close() error { return s.db.Close() }
