package models

import "time"

// VerificationRequest binds a phone number to a user. There is one row per user.
// Code holds a bcrypt hash of the issued OTP and is cleared once verified.
type VerificationRequest struct {
	ID                   uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID               uint       `json:"userId" gorm:"uniqueIndex;not null"`
	PhoneNumber          string     `json:"phoneNumber" gorm:"size:32;not null"`
	CountryCode          string     `json:"countryCode" gorm:"size:8;not null"`
	Code                 *string    `json:"-" gorm:"size:100"`
	CodeExpiresAt        *time.Time `json:"codeExpiresAt,omitempty"`
	IsVerified           bool       `json:"isVerified" gorm:"not null"`
	VerifiedAt           *time.Time `json:"verifiedAt,omitempty"`
	NotificationsEnabled bool       `json:"notificationsEnabled" gorm:"not null"`
	CreatedAt            time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt            time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for VerificationRequest
func (VerificationRequest) TableName() string {
	return "whatsapp_user_configs"
}

// HasPendingCode reports whether a code was issued and not consumed yet
func (v *VerificationRequest) HasPendingCode() bool {
	return v.Code != nil && v.CodeExpiresAt != nil
}
