package models

// ModelsToAutoMigrate lists every model owned by the core, in dependency
// order, for gorm.AutoMigrate.
func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&RAGIndex{},
		&NotionSyncState{},
		&DriveSyncState{},
		&DriveFileSnapshot{},
		&OAuthCredential{},
	}
}
