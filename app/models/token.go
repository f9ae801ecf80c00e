package models

import "time"

// Token holds the credentials issued by one provider. Kind is the provider name.
type Token struct {
	ID                  uint       `gorm:"primaryKey" json:"-"`
	IdentityID          uint       `gorm:"uniqueIndex:identity_kind" json:"-"`
	Position            int        `gorm:"not null;default:0" json:"-"`
	Kind                string     `gorm:"uniqueIndex:identity_kind;type:varchar(50)" json:"kind"`
	AccessToken         string     `gorm:"type:text" json:"-"`
	AccessTokenExpires  *time.Time `gorm:"type:timestamp;default:null" json:"access_token_expires,omitempty"`
	RefreshToken        string     `gorm:"type:text" json:"-"`
	RefreshTokenExpires *time.Time `gorm:"type:timestamp;default:null" json:"refresh_token_expires,omitempty"`
	TokenSecret         string     `gorm:"type:text" json:"-"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"-"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"-"`
}

// TableName keeps tokens apart from any other "tokens" table in the schema.
func (Token) TableName() string {
	return "identity_tokens"
}

// AccessTokenUsable reports whether the access token can be used at now,
// keeping skew as safety margin. A token without expiry never expires.
func (t *Token) AccessTokenUsable(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.AccessTokenExpires == nil {
		return true
	}
	return now.Before(t.AccessTokenExpires.Add(-skew))
}

// RefreshTokenUsable reports whether a refresh grant may still succeed.
func (t *Token) RefreshTokenUsable(now time.Time) bool {
	if t.RefreshToken == "" {
		return false
	}
	return t.RefreshTokenExpires == nil || now.Before(*t.RefreshTokenExpires)
}

// Clone copies the token including its time pointers.
func (t Token) Clone() Token {
	if t.AccessTokenExpires != nil {
		v := *t.AccessTokenExpires
		t.AccessTokenExpires = &v
	}
	if t.RefreshTokenExpires != nil {
		v := *t.RefreshTokenExpires
		t.RefreshTokenExpires = &v
	}
	return t
}

// TimePtr returns nil for the zero time, otherwise a pointer to t.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
