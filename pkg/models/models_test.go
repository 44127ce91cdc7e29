package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(ModelsToAutoMigrate()...))
	return db
}

func TestRAGIndexUpsert(t *testing.T) {
	db := testDB(t)

	meta := &RAGIndex{
		WorkspaceID: "ws-1",
		IndexName:   "default",
		Engine:      "chroma",
		StorageURI:  "/data/ws-1",
		Status:      RAGIndexStatusBuilding,
	}
	require.NoError(t, meta.Upsert(db))

	meta.Status = RAGIndexStatusReady
	meta.ObjectCount = 4
	meta.VectorCount = 12
	meta.Dim = 1536
	require.NoError(t, meta.Upsert(db))

	got := &RAGIndex{WorkspaceID: "ws-1", IndexName: "default"}
	require.NoError(t, got.Get(db))
	assert.Equal(t, RAGIndexStatusReady, got.Status)
	assert.Equal(t, int64(4), got.ObjectCount)
	assert.Equal(t, int64(12), got.VectorCount)
	assert.Equal(t, 1536, got.Dim)

	var count int64
	require.NoError(t, db.Model(&RAGIndex{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "upsert must not duplicate rows")
}

func TestNotionSyncStateRoundTrip(t *testing.T) {
	db := testDB(t)

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	state := &NotionSyncState{
		DataSourceID: "ds-1",
		WorkspaceID:  "ws-1",
		Since:        &since,
		NextCursor:   "cursor-a",
	}
	require.NoError(t, state.Upsert(db))

	state.NextCursor = ""
	require.NoError(t, state.Upsert(db))

	got := &NotionSyncState{DataSourceID: "ds-1"}
	require.NoError(t, got.Get(db))
	assert.Empty(t, got.NextCursor, "cleared cursor persists")
	require.NotNil(t, got.Since)
	assert.True(t, got.Since.Equal(since))
}

func TestDriveFileSnapshotLifecycle(t *testing.T) {
	db := testDB(t)

	snapshot := &DriveFileSnapshot{
		DataSourceID: "ds-1",
		FileID:       "f1",
		Name:         "A.docx",
		MD5Checksum:  "md5-x",
		Version:      3,
		ModifiedTime: time.Now().UTC(),
		LastSynced:   time.Now().UTC(),
	}
	require.NoError(t, snapshot.Upsert(db))

	snapshot.Name = "A-renamed.docx"
	require.NoError(t, snapshot.Upsert(db))

	got := &DriveFileSnapshot{DataSourceID: "ds-1", FileID: "f1"}
	require.NoError(t, got.Get(db))
	assert.Equal(t, "A-renamed.docx", got.Name)

	require.NoError(t, got.Delete(db))
	assert.Error(t, got.Get(db))
}

func TestOAuthCredentialExpiresWithin(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresIn time.Duration
		window    time.Duration
		want      bool
	}{
		{"well before expiry", time.Hour, 90 * time.Second, false},
		{"inside window", 10 * time.Second, 90 * time.Second, true},
		{"already expired", -time.Minute, 90 * time.Second, true},
		{"one second past window edge", 91 * time.Second, 90 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expiry := now.Add(tt.expiresIn)
			cred := &OAuthCredential{ExpiresAt: &expiry}
			assert.Equal(t, tt.want, cred.ExpiresWithin(tt.window, now))
		})
	}

	noExpiry := &OAuthCredential{}
	assert.False(t, noExpiry.ExpiresWithin(90*time.Second, now))
}

func TestDeleteCredentialsByProvider(t *testing.T) {
	db := testDB(t)

	for _, ds := range []string{"ds-1", "ds-2"} {
		cred := &OAuthCredential{
			Provider:     ProviderNotion,
			UserID:       "u1",
			DataSourceID: ds,
			AccessToken:  "tok",
		}
		require.NoError(t, cred.Upsert(db))
	}
	keep := &OAuthCredential{
		Provider:     ProviderGoogle,
		UserID:       "u1",
		DataSourceID: "ds-3",
		AccessToken:  "tok",
	}
	require.NoError(t, keep.Upsert(db))

	require.NoError(t, DeleteCredentialsByProvider(db, ProviderNotion, []string{"ds-1", "ds-2"}))

	var count int64
	require.NoError(t, db.Model(&OAuthCredential{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, keep.Get(db))
}

func TestJSONColumnRoundTrip(t *testing.T) {
	db := testDB(t)

	cred := &OAuthCredential{
		Provider:        ProviderNotion,
		UserID:          "u1",
		DataSourceID:    "ds-1",
		AccessToken:     "tok",
		ProviderPayload: JSON(`{"bot_id":"b1","workspace_name":"acme"}`),
	}
	require.NoError(t, cred.Upsert(db))

	got := &OAuthCredential{Provider: ProviderNotion, DataSourceID: "ds-1"}
	require.NoError(t, got.Get(db))
	assert.JSONEq(t, `{"bot_id":"b1","workspace_name":"acme"}`, got.ProviderPayload.String())
}
