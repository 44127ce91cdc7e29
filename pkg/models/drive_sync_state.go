package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DriveSyncState tracks Changes-API-driven Google Drive synchronization
// per data source.
type DriveSyncState struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// DataSourceID identifies the connected Drive account.
	DataSourceID string `gorm:"type:varchar(255);not null;uniqueIndex"`

	// WorkspaceID is the owning workspace.
	WorkspaceID string `gorm:"type:varchar(255);not null;index"`

	// StartPageToken is the Changes API cursor for the next pull.
	StartPageToken string `gorm:"type:varchar(512)"`

	// BootstrappedAt is when the initial full enumeration completed.
	BootstrappedAt *time.Time

	// LastSynced is when the last incremental pull completed.
	LastSynced *time.Time
}

// TableName specifies the table name for GORM.
func (DriveSyncState) TableName() string {
	return "drive_sync_states"
}

// Get retrieves the sync state row for a data source.
func (s *DriveSyncState) Get(db *gorm.DB) error {
	return db.Where(DriveSyncState{DataSourceID: s.DataSourceID}).First(s).Error
}

// Upsert creates or updates the sync state row.
func (s *DriveSyncState) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "data_source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"workspace_id", "start_page_token", "bootstrapped_at",
			"last_synced", "updated_at",
		}),
	}).Create(s).Error
}

// DriveFileSnapshot caches the last-ingested revision markers of one Drive
// file, used to decide whether a change requires re-ingestion.
type DriveFileSnapshot struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// DataSourceID scopes the snapshot to one connected Drive account.
	DataSourceID string `gorm:"type:varchar(255);not null;uniqueIndex:idx_drive_snapshot_source_file"`

	// FileID is the Drive file id.
	FileID string `gorm:"type:varchar(255);not null;uniqueIndex:idx_drive_snapshot_source_file"`

	// Name is the file's display name at last sync.
	Name string `gorm:"type:varchar(1024)"`

	// MimeType is the file's MIME type.
	MimeType string `gorm:"type:varchar(255)"`

	// MD5Checksum is set for binary files (PDF, Office uploads).
	MD5Checksum string `gorm:"type:varchar(64)"`

	// Version is the Drive-reported monotonically increasing version,
	// meaningful for Google-native files.
	Version int64 `gorm:"default:0"`

	// ModifiedTime is the file's modifiedTime at last sync.
	ModifiedTime time.Time

	// WebViewLink is the browser URL of the file.
	WebViewLink string `gorm:"type:varchar(2048)"`

	// LastSynced is when this file was last ingested.
	LastSynced time.Time
}

// TableName specifies the table name for GORM.
func (DriveFileSnapshot) TableName() string {
	return "drive_file_snapshots"
}

// Get retrieves a snapshot row.
func (s *DriveFileSnapshot) Get(db *gorm.DB) error {
	return db.
		Where(DriveFileSnapshot{DataSourceID: s.DataSourceID, FileID: s.FileID}).
		First(s).Error
}

// Upsert creates or updates the snapshot row.
func (s *DriveFileSnapshot) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "data_source_id"}, {Name: "file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "mime_type", "md5_checksum", "version",
			"modified_time", "web_view_link", "last_synced", "updated_at",
		}),
	}).Create(s).Error
}

// Delete removes the snapshot row.
func (s *DriveFileSnapshot) Delete(db *gorm.DB) error {
	return db.
		Where(DriveFileSnapshot{DataSourceID: s.DataSourceID, FileID: s.FileID}).
		Delete(&DriveFileSnapshot{}).Error
}

// DriveFileSnapshots is a slice of snapshots.
type DriveFileSnapshots []DriveFileSnapshot

// FindByDataSource retrieves all snapshots for a data source.
func (ss *DriveFileSnapshots) FindByDataSource(db *gorm.DB, dataSourceID string) error {
	return db.Where("data_source_id = ?", dataSourceID).Find(ss).Error
}
