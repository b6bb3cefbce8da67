package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested report does not exist.
var ErrNotFound = errors.New("report not found")

// ReportRecord is the persisted form of one reconciled trip: the raw payload
// as received and the built report, both as JSON documents.
type ReportRecord struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	AuditTripID string          `gorm:"uniqueIndex;not null" json:"audit_trip_id"`
	ProviderID  string          `gorm:"index" json:"provider_id,omitempty"`
	Payload     json.RawMessage `gorm:"type:jsonb" json:"-"`
	Report      json.RawMessage `gorm:"type:jsonb" json:"report,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ReportStore persists audit reports in Postgres.
type ReportStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewReportStore creates a report store.
func NewReportStore(db *gorm.DB, logger *zap.Logger) *ReportStore {
	return &ReportStore{db: db, logger: logger}
}

// Migrate creates or updates the reports table.
func (s *ReportStore) Migrate() error {
	if err := s.db.AutoMigrate(&ReportRecord{}); err != nil {
		return fmt.Errorf("migrate report store: %w", err)
	}
	return nil
}

// Save upserts a record by audit trip id: rebuilding a report for the same
// trip replaces the stored one.
func (s *ReportStore) Save(ctx context.Context, record *ReportRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "audit_trip_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider_id", "payload", "report", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("save report %s: %w", record.AuditTripID, err)
	}
	return nil
}

// Get returns the record for an audit trip id.
func (s *ReportStore) Get(ctx context.Context, auditTripID string) (*ReportRecord, error) {
	var record ReportRecord
	err := s.db.WithContext(ctx).Where("audit_trip_id = ?", auditTripID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", auditTripID, err)
	}
	return &record, nil
}

// List returns records newest first.
func (s *ReportStore) List(ctx context.Context, limit, offset int) ([]ReportRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var records []ReportRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return records, nil
}

// Delete removes the record for an audit trip id.
func (s *ReportStore) Delete(ctx context.Context, auditTripID string) error {
	result := s.db.WithContext(ctx).Where("audit_trip_id = ?", auditTripID).Delete(&ReportRecord{})
	if result.Error != nil {
		return fmt.Errorf("delete report %s: %w", auditTripID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
