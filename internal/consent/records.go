package consent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConsentRecord is an append-only audit row written on every decision change.
type ConsentRecord struct {
	ID                uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID         string            `gorm:"size:255;not null;index" json:"session_id"`
	ConsentStatus     Status            `gorm:"size:20;not null" json:"consent_status"`
	ConsentCategories datatypes.JSONMap `json:"consent_categories"`
	IPAddress         string            `gorm:"size:45;not null;default:''" json:"ip_address"`
	UserAgent         string            `gorm:"type:text" json:"user_agent"`
	CreatedAt         time.Time         `gorm:"not null;index" json:"created_at"`
	ExpiresAt         time.Time         `gorm:"not null;index" json:"expires_at"`
}

// TableName specifies the table name for GORM
func (ConsentRecord) TableName() string {
	return "consent_records"
}

// SetConsentInput carries a decision together with who made it.
type SetConsentInput struct {
	Status     Status
	Categories map[Category]bool
	SessionID  string
	IPAddress  string
	UserAgent  string
	TTL        time.Duration // zero means DefaultTTL
}

// SetConsentResult is the new client state and when it stops being valid.
type SetConsentResult struct {
	State     State
	ExpiresAt time.Time
	RecordID  uint
}

// SetConsent stores a consent record and returns the state the client should
// now hold. Necessary is forced on regardless of input.
func SetConsent(db *gorm.DB, logger *slog.Logger, input SetConsentInput) (*SetConsentResult, error) {
	switch input.Status {
	case StatusAccepted, StatusDeclined, StatusPartial:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, input.Status)
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	categories := normalizeCategories(input.Categories)
	now := time.Now().UTC()

	stored := datatypes.JSONMap{}
	for c, allowed := range categories {
		stored[string(c)] = allowed
	}

	record := &ConsentRecord{
		SessionID:         input.SessionID,
		ConsentStatus:     input.Status,
		ConsentCategories: stored,
		IPAddress:         input.IPAddress,
		UserAgent:         input.UserAgent,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store consent record: %w", err)
	}

	logger.Debug("Consent recorded",
		slog.String("status", string(input.Status)),
		slog.String("session_id", input.SessionID))

	return &SetConsentResult{
		State:     State{Status: input.Status, Categories: categories},
		ExpiresAt: record.ExpiresAt,
		RecordID:  record.ID,
	}, nil
}

// Statistics summarizes decisions taken over a window of days.
type Statistics struct {
	Days     int   `json:"days"`
	Total    int64 `json:"total_consents"`
	Accepted int64 `json:"accepted"`
	Declined int64 `json:"declined"`
	Partial  int64 `json:"partial"`
}

// GetStatistics counts consent records created in the last days days.
func GetStatistics(db *gorm.DB, days int) (*Statistics, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	var row struct {
		Total    int64
		Accepted int64
		Declined int64
		Partial  int64
	}
	err := db.Raw(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN consent_status = ? THEN 1 ELSE 0 END), 0) AS accepted,
			COALESCE(SUM(CASE WHEN consent_status = ? THEN 1 ELSE 0 END), 0) AS declined,
			COALESCE(SUM(CASE WHEN consent_status = ? THEN 1 ELSE 0 END), 0) AS partial
		FROM consent_records
		WHERE created_at >= ?
	`, StatusAccepted, StatusDeclined, StatusPartial, since).Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute consent statistics: %w", err)
	}

	return &Statistics{
		Days:     days,
		Total:    row.Total,
		Accepted: row.Accepted,
		Declined: row.Declined,
		Partial:  row.Partial,
	}, nil
}
