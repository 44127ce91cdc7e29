package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotionSyncState tracks incremental Notion synchronization per data source.
type NotionSyncState struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// DataSourceID identifies the connected Notion integration.
	DataSourceID string `gorm:"type:varchar(255);not null;uniqueIndex"`

	// WorkspaceID is the owning workspace.
	WorkspaceID string `gorm:"type:varchar(255);not null;index"`

	// LastFullSync is when the last full reindex completed.
	LastFullSync *time.Time

	// Since is the high-water mark for incremental pulls; pages with
	// last_edited_time > Since are re-fetched.
	Since *time.Time

	// NextCursor resumes a partially completed enumeration.
	NextCursor string `gorm:"type:varchar(512)"`

	// RateLimitedUntil defers the next pull after a provider 429.
	RateLimitedUntil *time.Time
}

// TableName specifies the table name for GORM.
func (NotionSyncState) TableName() string {
	return "notion_sync_states"
}

// Get retrieves the sync state row for a data source.
func (s *NotionSyncState) Get(db *gorm.DB) error {
	return db.Where(NotionSyncState{DataSourceID: s.DataSourceID}).First(s).Error
}

// Upsert creates or updates the sync state row. Sync state rows are
// read-modify-written under the caller's per-data-source lock.
func (s *NotionSyncState) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "data_source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"workspace_id", "last_full_sync", "since", "next_cursor",
			"rate_limited_until", "updated_at",
		}),
	}).Create(s).Error
}
