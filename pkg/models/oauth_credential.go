package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OAuth providers known to the core.
const (
	ProviderNotion = "notion"
	ProviderGoogle = "google"
)

// OAuthCredential holds the tokens for one connected provider account.
// The token provider refreshes it in place; concurrent refreshes are
// last-writer-wins on UpdatedAt.
type OAuthCredential struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Provider is "notion" or "google".
	Provider string `gorm:"type:varchar(50);not null;uniqueIndex:idx_oauth_provider_source"`

	// UserID is the connecting user.
	UserID string `gorm:"type:varchar(255);not null"`

	// DataSourceID ties the credential to a sync state row.
	DataSourceID string `gorm:"type:varchar(255);not null;uniqueIndex:idx_oauth_provider_source"`

	// AccessToken is the current bearer token.
	AccessToken string `gorm:"type:text;not null"`

	// RefreshToken is empty for providers that issue non-expiring tokens.
	RefreshToken string `gorm:"type:text"`

	// ExpiresAt is zero when the access token does not expire.
	ExpiresAt *time.Time

	// TokenType is usually "bearer".
	TokenType string `gorm:"type:varchar(50);default:'bearer'"`

	// ProviderPayload preserves the raw token response for
	// provider-specific fields (bot id, workspace icon, scopes).
	ProviderPayload JSON `gorm:"type:text"`
}

// TableName specifies the table name for GORM.
func (OAuthCredential) TableName() string {
	return "oauth_credentials"
}

// Get retrieves the credential row for a provider + data source.
func (c *OAuthCredential) Get(db *gorm.DB) error {
	return db.
		Where(OAuthCredential{Provider: c.Provider, DataSourceID: c.DataSourceID}).
		First(c).Error
}

// Upsert creates or replaces the credential row.
func (c *OAuthCredential) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "data_source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "access_token", "refresh_token", "expires_at",
			"token_type", "provider_payload", "updated_at",
		}),
	}).Create(c).Error
}

// Delete removes the credential row.
func (c *OAuthCredential) Delete(db *gorm.DB) error {
	return db.
		Where(OAuthCredential{Provider: c.Provider, DataSourceID: c.DataSourceID}).
		Delete(&OAuthCredential{}).Error
}

// DeleteCredentialsByProvider removes every credential row for a
// provider within the given data sources. Used by the disconnect flow.
func DeleteCredentialsByProvider(db *gorm.DB, provider string, dataSourceIDs []string) error {
	if len(dataSourceIDs) == 0 {
		return nil
	}
	return db.
		Where("provider = ? AND data_source_id IN ?", provider, dataSourceIDs).
		Delete(&OAuthCredential{}).Error
}

// ExpiresWithin reports whether the access token expires inside the given
// window. Credentials without an expiry never expire.
func (c *OAuthCredential) ExpiresWithin(window time.Duration, now time.Time) bool {
	if c.ExpiresAt == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(window).After(*c.ExpiresAt)
}
