package database

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jaliph/qrbridge/models"
	"github.com/jaliph/qrbridge/utils"
)

// GormDB is the optional MSSQL reporting mirror of the generation history
type GormDB struct {
	db     *gorm.DB
	logger *slog.Logger
}

// BuildSQLServerDSN assembles a sqlserver:// DSN with escaped credentials
func BuildSQLServerDSN(server string, port int, database, username, password string) string {
	host := server
	if port > 0 {
		host = net.JoinHostPort(server, strconv.Itoa(port))
	}
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(username, password),
		Host:   host,
	}
	q := url.Values{}
	q.Set("database", database)
	u.RawQuery = q.Encode()
	return u.String()
}

// NewGormDB creates a new GORM database connection
func NewGormDB(dsn string, log *slog.Logger) (*GormDB, error) {
	db, err := gorm.Open(sqlserver.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MSSQL: %w", err)
	}

	gormDB := &GormDB{db: db, logger: utils.Or(log)}

	// Auto migrate the database
	if err := gormDB.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	gormDB.logger.Info("MSSQL mirror connected")
	return gormDB, nil
}

// migrate runs database migrations
func (gdb *GormDB) migrate() error {
	return gdb.db.AutoMigrate(&models.Generation{})
}

// StoreGeneration inserts a record unless one with the same cycle id exists
func (gdb *GormDB) StoreGeneration(ctx context.Context, g *models.Generation) error {
	row := *g
	row.ID = 0
	var existing models.Generation
	result := gdb.db.WithContext(ctx).
		Where(models.Generation{CycleID: row.CycleID}).
		Attrs(row).
		FirstOrCreate(&existing)
	if result.Error != nil {
		return fmt.Errorf("failed to store generation %s: %w", g.CycleID, result.Error)
	}
	return nil
}

// ForceSyncGenerations copies every record of source into the mirror
func (gdb *GormDB) ForceSyncGenerations(ctx context.Context, source interface {
	GetAllGenerations(ctx context.Context) ([]models.Generation, error)
}) (int, error) {
	generations, err := source.GetAllGenerations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read local generations: %w", err)
	}

	gdb.logger.Info("Syncing generations to MSSQL", "count", len(generations))
	for i := range generations {
		if err := gdb.StoreGeneration(ctx, &generations[i]); err != nil {
			return i, err
		}
	}
	return len(generations), nil
}

// GetGenerationStats counts mirrored generations relative to now
func (gdb *GormDB) GetGenerationStats(ctx context.Context, now time.Time) (*models.GenerationStats, error) {
	stats := &models.GenerationStats{ByOutcome: make(map[string]int64)}
	db := gdb.db.WithContext(ctx).Model(&models.Generation{})

	// Total generations
	if err := db.Count(&stats.TotalGenerations).Error; err != nil {
		return nil, fmt.Errorf("failed to count total generations: %w", err)
	}

	// Generations today
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := gdb.db.WithContext(ctx).Model(&models.Generation{}).Where("created_at >= ?", today).Count(&stats.GenerationsToday).Error; err != nil {
		return nil, fmt.Errorf("failed to count today's generations: %w", err)
	}

	// Generations this week
	if err := gdb.db.WithContext(ctx).Model(&models.Generation{}).Where("created_at >= ?", now.AddDate(0, 0, -7)).Count(&stats.GenerationsThisWeek).Error; err != nil {
		return nil, fmt.Errorf("failed to count this week's generations: %w", err)
	}

	// Generations this month
	if err := gdb.db.WithContext(ctx).Model(&models.Generation{}).Where("created_at >= ?", now.AddDate(0, -1, 0)).Count(&stats.GenerationsThisMonth).Error; err != nil {
		return nil, fmt.Errorf("failed to count this month's generations: %w", err)
	}

	// Generations per outcome
	var byOutcome []struct {
		Outcome string
		N       int64
	}
	if err := gdb.db.WithContext(ctx).Model(&models.Generation{}).Select("outcome, COUNT(*) AS n").Group("outcome").Scan(&byOutcome).Error; err != nil {
		return nil, fmt.Errorf("failed to group generations: %w", err)
	}
	for _, row := range byOutcome {
		stats.ByOutcome[row.Outcome] = row.N
	}

	return stats, nil
}

// Close closes the database connection
func (gdb *GormDB) Close() error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
