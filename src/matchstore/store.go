// Package matchstore persists finished matches in sqlite, keeping only the
// most recent records up to a configured cap.
package matchstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/rematch-coach/rematch-coach/src/pkg/migration"
	"github.com/rematch-coach/rematch-coach/src/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRecordNotFound is returned by lookups and patches for unknown ids.
var ErrRecordNotFound = errors.New("match record not found")

type Store interface {
	// Append inserts a finished match and evicts the oldest records beyond
	// the cap.
	Append(ctx context.Context, record *MatchRecord) error
	// All returns every stored record, most recent first.
	All(ctx context.Context) ([]*MatchRecord, error)
	Get(ctx context.Context, id types.MatchID) (*MatchRecord, error)
	// SetVideoPath backfills the recording path once the file is flushed.
	SetVideoPath(ctx context.Context, id types.MatchID, videoPath string) error
	SetThumbnailPath(ctx context.Context, id types.MatchID, thumbnailPath string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// SQLiteStore implements Store on a local sqlite file.
type SQLiteStore struct {
	db    *sql.DB
	limit int
	mu    sync.RWMutex
}

func NewSQLiteStore(dbPath string, limit int) (*SQLiteStore, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive, got %d", limit)
	}
	if _, err := migration.Run(&migration.Config{
		DBPath:     dbPath,
		Migrations: migrationsFS,
		SubDir:     "migrations",
		Backup:     true,
	}); err != nil {
		return nil, fmt.Errorf("migrate match store: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open match store: %w", err)
	}
	// A single writer keeps sqlite happy under modernc's driver.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, limit: limit}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, record *MatchRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("record must have an id")
	}
	goals, err := json.Marshal(record.Goals)
	if err != nil {
		return fmt.Errorf("marshal goals: %w", err)
	}
	finalScore := ""
	if record.FinalScore != nil {
		b, err := json.Marshal(record.FinalScore)
		if err != nil {
			return fmt.Errorf("marshal final score: %w", err)
		}
		finalScore = string(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO match_records
			(id, start_time, end_time, player_name, player_id, game_mode,
			 outcome, final_score, goals, video_path, thumbnail_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(record.ID),
		record.StartTime.UnixMilli(),
		endTimeMillis(record.EndTime),
		record.PlayerName,
		record.PlayerID,
		record.GameMode,
		record.Outcome,
		finalScore,
		string(goals),
		record.VideoPath,
		record.ThumbnailPath,
	); err != nil {
		return fmt.Errorf("insert match record: %w", err)
	}

	// Keep only the newest records; rowid breaks start-time ties.
	res, err := tx.ExecContext(ctx, `
		DELETE FROM match_records WHERE id NOT IN (
			SELECT id FROM match_records
			ORDER BY start_time DESC, rowid DESC
			LIMIT ?
		)`, s.limit)
	if err != nil {
		return fmt.Errorf("evict old match records: %w", err)
	}
	if evicted, _ := res.RowsAffected(); evicted > 0 {
		logrus.WithFields(logrus.Fields{
			"evicted": evicted,
			"limit":   s.limit,
		}).Debug("match history trimmed")
	}
	return tx.Commit()
}

func (s *SQLiteStore) All(ctx context.Context) ([]*MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		FROM match_records
		ORDER BY start_time DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*MatchRecord, 0, s.limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id types.MatchID) (*MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, selectColumns+`
		FROM match_records WHERE id = ?`, string(id))
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return record, err
}

func (s *SQLiteStore) SetVideoPath(ctx context.Context, id types.MatchID, videoPath string) error {
	return s.patchColumn(ctx, id, "video_path", videoPath)
}

func (s *SQLiteStore) SetThumbnailPath(ctx context.Context, id types.MatchID, thumbnailPath string) error {
	return s.patchColumn(ctx, id, "thumbnail_path", thumbnailPath)
}

func (s *SQLiteStore) patchColumn(ctx context.Context, id types.MatchID, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Column names come from the two callers above, never from input.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE match_records SET %s = ? WHERE id = ?", column),
		value, string(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_records`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

const selectColumns = `
	SELECT id, start_time, end_time, player_name, player_id, game_mode,
	       outcome, final_score, goals, video_path, thumbnail_path`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*MatchRecord, error) {
	var (
		record               MatchRecord
		id                   string
		startMs, endMs       int64
		finalScore, goalsRaw string
	)
	if err := row.Scan(&id, &startMs, &endMs, &record.PlayerName, &record.PlayerID,
		&record.GameMode, &record.Outcome, &finalScore, &goalsRaw,
		&record.VideoPath, &record.ThumbnailPath); err != nil {
		return nil, err
	}
	record.ID = types.MatchID(id)
	record.StartTime = time.UnixMilli(startMs)
	if endMs > 0 {
		record.EndTime = time.UnixMilli(endMs)
	}
	if finalScore != "" {
		record.FinalScore = &types.Score{}
		if err := json.Unmarshal([]byte(finalScore), record.FinalScore); err != nil {
			return nil, fmt.Errorf("unmarshal final score: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(goalsRaw), &record.Goals); err != nil {
		return nil, fmt.Errorf("unmarshal goals: %w", err)
	}
	return &record, nil
}

func endTimeMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
