package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStatus string

const (
	MessageStatusPending MessageStatus = "PENDING"
	MessageStatusSent    MessageStatus = "SENT"
	MessageStatusFailed  MessageStatus = "FAILED"
)

// MessageLog records one outbound send attempt. It is written as PENDING before the
// send and receives exactly one terminal update afterwards.
type MessageLog struct {
	ID                string        `json:"id" gorm:"primaryKey;size:36"`
	TemplateCode      *string       `json:"templateCode,omitempty" gorm:"size:100;index"`
	RecipientPhone    string        `json:"recipientPhone" gorm:"size:32;not null;index"`
	RecipientName     *string       `json:"recipientName,omitempty" gorm:"size:150"`
	RenderedBody      string        `json:"renderedBody" gorm:"type:text;not null"`
	Status            MessageStatus `json:"status" gorm:"size:10;not null;index"`
	ProviderMessageID *string       `json:"providerMessageId,omitempty" gorm:"size:128"`
	SentAt            *time.Time    `json:"sentAt,omitempty"`
	Error             *string       `json:"error,omitempty" gorm:"type:text"`
	CreatedBy         *uint         `json:"createdBy,omitempty" gorm:"index"`
	CreatedAt         time.Time     `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt         time.Time     `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for MessageLog
func (MessageLog) TableName() string {
	return "whatsapp_message_logs"
}

// BeforeCreate assigns the log identifier
func (l *MessageLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = MessageStatusPending
	}
	return nil
}

// IsTerminal reports whether the log already received its final status
func (l *MessageLog) IsTerminal() bool {
	return l.Status == MessageStatusSent || l.Status == MessageStatusFailed
}

// MessageLogFilter narrows a log listing
type MessageLogFilter struct {
	Status       MessageStatus
	Phone        string
	TemplateCode string
	Limit        int
	Offset       int
}
