package models

import "time"

// ProviderLink stores the external account id an identity owns at a provider.
// (provider, external_id) is unique across all identities and an identity holds
// at most one link per provider.
type ProviderLink struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	IdentityID uint      `gorm:"index;uniqueIndex:identity_provider" json:"identity_id"`
	Provider   string    `gorm:"uniqueIndex:provider_external;uniqueIndex:identity_provider;type:varchar(50)" json:"provider"`
	ExternalID string    `gorm:"uniqueIndex:provider_external;type:varchar(191)" json:"external_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
