package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RAG index lifecycle states.
const (
	RAGIndexStatusReady    = "ready"
	RAGIndexStatusBuilding = "building"
	RAGIndexStatusFailed   = "failed"
)

// RAGIndex describes the default retrieval index of one workspace.
// Each workspace owns exactly one row with IndexName "default".
type RAGIndex struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// WorkspaceID is the owning workspace.
	WorkspaceID string `gorm:"type:varchar(255);not null;uniqueIndex:idx_rag_index_workspace_name"`

	// IndexName is the logical index name within the workspace.
	IndexName string `gorm:"type:varchar(255);not null;default:'default';uniqueIndex:idx_rag_index_workspace_name"`

	// Engine is the vector store engine backing the index.
	Engine string `gorm:"type:varchar(50);not null;default:'chroma'"`

	// StorageURI is the filesystem location of the index.
	StorageURI string `gorm:"type:varchar(1024);not null"`

	// Dim is the embedding dimension, recorded on first write (0 = unset).
	Dim int `gorm:"default:0"`

	// Status is one of ready, building, failed.
	Status string `gorm:"type:varchar(50);not null;default:'building'"`

	// ObjectCount is the number of live source documents.
	ObjectCount int64 `gorm:"default:0"`

	// VectorCount is the number of live record vectors.
	VectorCount int64 `gorm:"default:0"`
}

// TableName specifies the table name for GORM.
func (RAGIndex) TableName() string {
	return "rag_indexes"
}

// Get retrieves the index row for a workspace, by name.
func (r *RAGIndex) Get(db *gorm.DB) error {
	return db.
		Where(RAGIndex{WorkspaceID: r.WorkspaceID, IndexName: r.IndexName}).
		First(r).Error
}

// Upsert creates the row or updates counts, dim, and status in place.
func (r *RAGIndex) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "workspace_id"}, {Name: "index_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"engine", "storage_uri", "dim", "status",
			"object_count", "vector_count", "updated_at",
		}),
	}).Create(r).Error
}
