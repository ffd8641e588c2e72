package models

import (
	"time"
)

// Generation records one executed capture cycle
type Generation struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	CycleID    string    `gorm:"size:32;not null;uniqueIndex" json:"cycle_id"`
	Outcome    Outcome   `gorm:"size:32;not null;index" json:"outcome"`
	Attempts   int       `gorm:"not null;default:0" json:"attempts"`
	PayloadLen int       `gorm:"not null;default:0" json:"payload_len"`
	ImageBytes int       `gorm:"not null;default:0" json:"image_bytes"`
	DurationMS int64     `gorm:"not null;default:0" json:"duration_ms"`
	Activated  bool      `gorm:"not null;default:false" json:"activated"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name for the Generation model
func (Generation) TableName() string {
	return "qrbridge_generations"
}

// GenerationStats represents generation statistics
type GenerationStats struct {
	TotalGenerations     int64            `json:"total_generations"`
	GenerationsToday     int64            `json:"generations_today"`
	GenerationsThisWeek  int64            `json:"generations_this_week"`
	GenerationsThisMonth int64            `json:"generations_this_month"`
	ByOutcome            map[string]int64 `json:"by_outcome"`
	LastSuccessAt        *time.Time       `json:"last_success_at,omitempty"`
	AverageImageSize     string           `json:"average_image_size,omitempty"`
	Mirror               *GenerationStats `json:"mirror,omitempty"`
}
