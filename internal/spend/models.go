package spend

import "time"

// Event is a GORM model for the spend_events table. One row per upstream
// call, written best-effort after usage accounting.
type Event struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	ProviderID       string    `gorm:"not null;index:idx_spend_provider_day" json:"provider_id"`
	Model            string    `gorm:"not null" json:"model"`
	PromptTokens     int       `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens int       `gorm:"not null;default:0" json:"completion_tokens"`
	CostUSD          float64   `gorm:"not null;default:0;type:numeric(12,6)" json:"cost_usd"`
	PricingKnown     bool      `gorm:"default:true" json:"pricing_known"`
	Streamed         bool      `gorm:"default:false" json:"streamed"`
	DurationMs       int       `gorm:"default:0" json:"duration_ms"`
	Status           string    `gorm:"default:success" json:"status"`
	DayKey           string    `gorm:"not null;index:idx_spend_provider_day;type:date" json:"day_key"`
	MonthKey         string    `gorm:"not null;index:idx_spend_month" json:"month_key"`
}

func (Event) TableName() string { return "spend_events" }

// Summary is returned by the summary query.
type Summary struct {
	DailySpend   float64 `json:"daily_spend"`
	MonthlySpend float64 `json:"monthly_spend"`
	DailyCount   int     `json:"daily_count"`
	MonthlyCount int     `json:"monthly_count"`
}

// BreakdownItem is one row of a grouped spend query.
type BreakdownItem struct {
	Key              string  `json:"key"`
	CostUSD          float64 `json:"cost_usd"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Count            int     `json:"count"`
}

// RecordInput contains all data needed to record a spend event.
type RecordInput struct {
	ProviderID       string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	PricingKnown     bool
	Streamed         bool
	DurationMs       int
	Status           string
}
