// Package spend persists a per-call spend ledger in SQLite via GORM. The
// ledger is observability, not accounting: writes are best-effort and a
// failed insert never fails the request that produced it.
package spend

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"modelgate/internal/logging"
)

// Ledger records and queries spend events.
type Ledger struct {
	db *gorm.DB
}

// Open creates (or opens) the ledger database at path and migrates the
// schema.
func Open(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("spend: failed to open ledger at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("spend: failed to migrate ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// NewLedger wraps an existing database handle. Used by tests with an
// in-memory SQLite.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Record persists one spend event. Failures are logged and swallowed.
func (l *Ledger) Record(in RecordInput) {
	now := time.Now().UTC()
	event := Event{
		ProviderID:       in.ProviderID,
		Model:            in.Model,
		PromptTokens:     in.PromptTokens,
		CompletionTokens: in.CompletionTokens,
		CostUSD:          in.CostUSD,
		PricingKnown:     in.PricingKnown,
		Streamed:         in.Streamed,
		DurationMs:       in.DurationMs,
		Status:           in.Status,
		DayKey:           now.Format("2006-01-02"),
		MonthKey:         now.Format("2006-01"),
	}
	if event.Status == "" {
		event.Status = "success"
	}

	if err := l.db.Create(&event).Error; err != nil {
		logging.L().Warn("spend ledger write failed",
			zap.String("provider", in.ProviderID),
			zap.String("model", in.Model),
			zap.Error(err))
	}
}

// DailySpend returns the total cost and event count for a provider on a day.
func (l *Ledger) DailySpend(providerID string, day time.Time) (float64, int, error) {
	var result struct {
		Total float64
		Count int
	}
	err := l.db.Model(&Event{}).
		Select("COALESCE(SUM(cost_usd), 0) as total, COUNT(*) as count").
		Where("provider_id = ? AND day_key = ?", providerID, day.UTC().Format("2006-01-02")).
		Scan(&result).Error
	if err != nil {
		return 0, 0, fmt.Errorf("spend: daily query failed: %w", err)
	}
	return result.Total, result.Count, nil
}

// Summary returns daily and monthly totals for a provider for the current
// period.
func (l *Ledger) Summary(providerID string) (*Summary, error) {
	now := time.Now().UTC()

	daily, dailyCount, err := l.DailySpend(providerID, now)
	if err != nil {
		return nil, err
	}

	var monthly struct {
		Total float64
		Count int
	}
	err = l.db.Model(&Event{}).
		Select("COALESCE(SUM(cost_usd), 0) as total, COUNT(*) as count").
		Where("provider_id = ? AND month_key = ?", providerID, now.Format("2006-01")).
		Scan(&monthly).Error
	if err != nil {
		return nil, fmt.Errorf("spend: monthly query failed: %w", err)
	}

	return &Summary{
		DailySpend:   daily,
		MonthlySpend: monthly.Total,
		DailyCount:   dailyCount,
		MonthlyCount: monthly.Count,
	}, nil
}

// Breakdown returns spend grouped by provider or model for an optional day.
func (l *Ledger) Breakdown(groupBy, dayKey string) ([]BreakdownItem, error) {
	groupCol := "provider_id"
	if groupBy == "model" {
		groupCol = "model"
	}

	query := l.db.Model(&Event{}).
		Select(
			groupCol + " as `key`, " +
				"COALESCE(SUM(cost_usd), 0) as cost_usd, " +
				"COALESCE(SUM(prompt_tokens), 0) as prompt_tokens, " +
				"COALESCE(SUM(completion_tokens), 0) as completion_tokens, " +
				"COUNT(*) as count").
		Group(groupCol).
		Order("cost_usd DESC")
	if dayKey != "" {
		query = query.Where("day_key = ?", dayKey)
	}

	var items []BreakdownItem
	if err := query.Scan(&items).Error; err != nil {
		return nil, fmt.Errorf("spend: breakdown query failed: %w", err)
	}
	return items, nil
}
