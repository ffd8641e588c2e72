package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/jaliph/qrbridge/models"
	"github.com/jaliph/qrbridge/utils"
)

const mirrorTimeout = 15 * time.Second

// Mirror receives a copy of every recorded generation
type Mirror interface {
	StoreGeneration(ctx context.Context, g *models.Generation) error
	ForceSyncGenerations(ctx context.Context, source interface {
		GetAllGenerations(ctx context.Context) ([]models.Generation, error)
	}) (int, error)
	GetGenerationStats(ctx context.Context, now time.Time) (*models.GenerationStats, error)
}

// Database is the local generation history
type Database struct {
	db      *sql.DB
	mirror  Mirror
	logger  *slog.Logger
	pending sync.WaitGroup
}

// NewDatabase opens (or creates) the history database at path.
// gormDB is an optional reporting mirror; it may be nil.
func NewDatabase(path string, gormDB *GormDB, logger *slog.Logger) (*Database, error) {
	var mirror Mirror
	if gormDB != nil {
		mirror = gormDB
	}
	return openDatabase(path, mirror, logger)
}

func openDatabase(path string, mirror Mirror, logger *slog.Logger) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time keeps sqlite from reporting SQLITE_BUSY
	db.SetMaxOpenConns(1)

	database := &Database{db: db, mirror: mirror, logger: utils.Or(logger)}
	if err := database.init(); err != nil {
		db.Close()
		return nil, err
	}

	return database, nil
}

// init initializes the database tables
func (d *Database) init() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL UNIQUE,
			outcome TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			payload_len INTEGER NOT NULL DEFAULT 0,
			image_bytes INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			activated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create generations table: %w", err)
	}

	_, err = d.db.Exec(`CREATE INDEX IF NOT EXISTS idx_generations_created_at ON generations (created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create generations index: %w", err)
	}

	d.logger.Debug("Database initialized successfully")
	return nil
}

// RecordGeneration stores a cycle record and forwards it to the mirror
func (d *Database) RecordGeneration(ctx context.Context, g *models.Generation) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO generations (cycle_id, outcome, attempts, payload_len, image_bytes, duration_ms, activated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, g.CycleID, string(g.Outcome), g.Attempts, g.PayloadLen, g.ImageBytes, g.DurationMS, g.Activated, g.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record generation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		g.ID = uint(id)
	}

	if d.mirror != nil {
		row := *g
		d.pending.Add(1)
		go func() {
			defer d.pending.Done()
			mctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if err := d.mirror.StoreGeneration(mctx, &row); err != nil {
				d.logger.Warn("Failed to mirror generation", "cycle", row.CycleID, "error", err)
			}
		}()
	}
	return nil
}

// GetRecentGenerations returns the newest records first
func (d *Database) GetRecentGenerations(ctx context.Context, limit int) ([]models.Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, cycle_id, outcome, attempts, payload_len, image_bytes, duration_ms, activated, created_at
		FROM generations ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()
	return scanGenerations(rows)
}

// GetAllGenerations returns every record, oldest first
func (d *Database) GetAllGenerations(ctx context.Context) ([]models.Generation, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, cycle_id, outcome, attempts, payload_len, image_bytes, duration_ms, activated, created_at
		FROM generations ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()
	return scanGenerations(rows)
}

func scanGenerations(rows *sql.Rows) ([]models.Generation, error) {
	var out []models.Generation
	for rows.Next() {
		var (
			g       models.Generation
			id      int64
			outcome string
			created int64
		)
		if err := rows.Scan(&id, &g.CycleID, &outcome, &g.Attempts, &g.PayloadLen, &g.ImageBytes, &g.DurationMS, &g.Activated, &created); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		g.ID = uint(id)
		g.Outcome = models.Outcome(outcome)
		g.CreatedAt = time.Unix(0, created)
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGenerationStats summarizes the history relative to now
func (d *Database) GetGenerationStats(ctx context.Context, now time.Time) (*models.GenerationStats, error) {
	stats := &models.GenerationStats{ByOutcome: make(map[string]int64)}

	// Total generations
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations`).Scan(&stats.TotalGenerations); err != nil {
		return nil, fmt.Errorf("failed to count generations: %w", err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	windows := []struct {
		since time.Time
		dst   *int64
	}{
		{today, &stats.GenerationsToday},
		{now.AddDate(0, 0, -7), &stats.GenerationsThisWeek},
		{now.AddDate(0, -1, 0), &stats.GenerationsThisMonth},
	}
	for _, w := range windows {
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations WHERE created_at >= ?`, w.since.UnixNano()).Scan(w.dst); err != nil {
			return nil, fmt.Errorf("failed to count generations since %s: %w", w.since.Format(time.RFC3339), err)
		}
	}

	rows, err := d.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM generations GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to group generations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		stats.ByOutcome[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	var avg sql.NullFloat64
	err = d.db.QueryRowContext(ctx, `
		SELECT MAX(created_at), AVG(image_bytes) FROM generations WHERE outcome = ?
	`, string(models.OutcomeDecoded)).Scan(&last, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize decoded generations: %w", err)
	}
	if last.Valid {
		t := time.Unix(0, last.Int64)
		stats.LastSuccessAt = &t
	}
	if avg.Valid {
		stats.AverageImageSize = humanize.Bytes(uint64(avg.Float64))
	}

	if d.mirror != nil {
		mirrored, err := d.mirror.GetGenerationStats(ctx, now)
		if err != nil {
			// local stats are still useful while MSSQL is unreachable
			d.logger.Warn("Failed to read mirror stats", "error", err)
		} else {
			stats.Mirror = mirrored
		}
	}

	return stats, nil
}

// SyncMirror copies every local record to the reporting mirror
func (d *Database) SyncMirror(ctx context.Context) (int, error) {
	if d.mirror == nil {
		return 0, nil
	}
	return d.mirror.ForceSyncGenerations(ctx, d)
}

// Close waits for outstanding mirror writes, then closes the database connection
func (d *Database) Close() error {
	d.pending.Wait()
	return d.db.Close()
}
