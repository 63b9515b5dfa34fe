package models

import "time"

// MessageTemplate is a stored message body with {{variable}} placeholders
type MessageTemplate struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Code        string    `json:"code" gorm:"size:100;uniqueIndex;not null"`
	Name        string    `json:"name" gorm:"size:150"`
	Description string    `json:"description,omitempty" gorm:"size:500"`
	Body        string    `json:"body" gorm:"type:text;not null"`
	IsActive    bool      `json:"isActive" gorm:"not null"`
	CreatedAt   time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for MessageTemplate
func (MessageTemplate) TableName() string {
	return "whatsapp_message_templates"
}
