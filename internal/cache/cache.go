package cache

import (
	"context"
	"time"
)

// SentRecord is what the cache keeps about a delivered message.
type SentRecord struct {
	ProviderMessageID string    `json:"providerMessageId"`
	SentAt            time.Time `json:"sentAt"`
}

type MessageCache interface {
	StoreSent(ctx context.Context, logID string, providerMessageID string, sentAt time.Time) error
	Sent(ctx context.Context, logID string) (*SentRecord, error)
}

// Nop is used when Redis is disabled.
type Nop struct{}

func (Nop) StoreSent(context.Context, string, string, time.Time) error { return nil }

func (Nop) Sent(context.Context, string) (*SentRecord, error) { return nil, nil }
