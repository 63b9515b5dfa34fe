package services

import (
	"context"
	"fmt"

	"erp_wa/internal/whatsapp"
)

type NotifyResult struct {
	Skipped bool        `json:"skipped"`
	Result  *SendResult `json:"result,omitempty"`
}

// NotificationService delivers templated notifications to users who linked and
// verified a phone number.
type NotificationService struct {
	messages *MessageService
	store    VerificationStore
}

func NewNotificationService(messages *MessageService, store VerificationStore) *NotificationService {
	return &NotificationService{messages: messages, store: store}
}

// NotifyUser sends templateCode to the user's verified phone. Users who turned
// notifications off are skipped without error.
func (s *NotificationService) NotifyUser(ctx context.Context, userID uint, templateCode string, vars map[string]string, actorID *uint) (*NotifyResult, error) {
	cfg, err := s.store.ByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNotFound
	}
	if !cfg.IsVerified {
		return nil, ErrNotVerified
	}
	if !cfg.NotificationsEnabled {
		return &NotifyResult{Skipped: true}, nil
	}

	res, err := s.messages.SendTemplated(ctx, TemplatedMessage{
		TemplateCode: templateCode,
		Phone:        whatsapp.JoinCountryCode(cfg.CountryCode, cfg.PhoneNumber),
		Variables:    vars,
		ActorID:      actorID,
	})
	if err != nil {
		return nil, err
	}
	return &NotifyResult{Result: res}, nil
}
