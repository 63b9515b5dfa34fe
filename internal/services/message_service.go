package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"erp_wa/internal/cache"
	"erp_wa/internal/metrics"
	"erp_wa/internal/models"
	"erp_wa/internal/whatsapp"

	"github.com/rs/zerolog"
)

// Connection is the part of the WhatsApp manager the services depend on.
type Connection interface {
	Status() whatsapp.Status
	SendText(ctx context.Context, jid, text string) (string, error)
	CheckNumber(ctx context.Context, phone string) (whatsapp.NumberCheck, error)
}

type TemplateStore interface {
	FindActiveByCode(ctx context.Context, code string) (*models.MessageTemplate, error)
}

type MessageLogStore interface {
	Create(ctx context.Context, log *models.MessageLog) error
	MarkSent(ctx context.Context, id, providerMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// TemplatedMessage is a send request resolved through a stored template.
type TemplatedMessage struct {
	TemplateCode  string
	Phone         string
	RecipientName string
	Variables     map[string]string
	ActorID       *uint
}

// PlainMessage is a send request with a ready-made body.
type PlainMessage struct {
	Phone         string
	Text          string
	RecipientName string
	ActorID       *uint
}

type SendResult struct {
	MessageID string `json:"messageId"`
	LogID     string `json:"logId"`
}

type MessageServiceConfig struct {
	Defaults           TemplateDefaults
	DefaultCountryCode string
}

// MessageService sends outbound messages and keeps one audit row per attempt.
type MessageService struct {
	conn      Connection
	templates TemplateStore
	logs      MessageLogStore
	cache     cache.MessageCache
	cfg       MessageServiceConfig
	now       func() time.Time
	log       zerolog.Logger
}

func NewMessageService(conn Connection, templates TemplateStore, logs MessageLogStore, sentCache cache.MessageCache, cfg MessageServiceConfig, log zerolog.Logger) *MessageService {
	if sentCache == nil {
		sentCache = cache.Nop{}
	}
	return &MessageService{
		conn:      conn,
		templates: templates,
		logs:      logs,
		cache:     sentCache,
		cfg:       cfg,
		now:       time.Now,
		log:       log,
	}
}

// SendRaw delivers text without logging and returns the transport message ID.
func (s *MessageService) SendRaw(ctx context.Context, phone, text string) (string, error) {
	if s.conn.Status().State != whatsapp.StateConnected {
		return "", ErrNotConnected
	}

	jid := whatsapp.PhoneToJID(phone, s.cfg.DefaultCountryCode)
	id, err := s.conn.SendText(ctx, jid, text)
	if err != nil {
		if errors.Is(err, whatsapp.ErrNotConnected) {
			return "", ErrNotConnected
		}
		return "", &SendError{Phone: phone, Err: err}
	}
	return id, nil
}

// SendTemplated renders an active template and sends it with a log row.
func (s *MessageService) SendTemplated(ctx context.Context, msg TemplatedMessage) (*SendResult, error) {
	tpl, err := s.templates.FindActiveByCode(ctx, msg.TemplateCode)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", msg.TemplateCode, err)
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, msg.TemplateCode)
	}

	vars := mergeVariables(s.cfg.Defaults.variables(s.now()), msg.Variables)
	code := tpl.Code
	return s.sendWithLog(ctx, &models.MessageLog{
		TemplateCode:   &code,
		RecipientPhone: s.recipient(msg.Phone),
		RecipientName:  optional(msg.RecipientName),
		RenderedBody:   RenderTemplate(tpl.Body, vars),
		CreatedBy:      msg.ActorID,
	})
}

// SendWithLog sends a plain body with the same logging as SendTemplated.
func (s *MessageService) SendWithLog(ctx context.Context, msg PlainMessage) (*SendResult, error) {
	return s.sendWithLog(ctx, &models.MessageLog{
		RecipientPhone: s.recipient(msg.Phone),
		RecipientName:  optional(msg.RecipientName),
		RenderedBody:   msg.Text,
		CreatedBy:      msg.ActorID,
	})
}

// Delivery returns the cached delivery record of a sent log, if still cached.
func (s *MessageService) Delivery(ctx context.Context, logID string) (*cache.SentRecord, error) {
	return s.cache.Sent(ctx, logID)
}

// sendWithLog writes the PENDING row, sends, then finalizes that same row.
func (s *MessageService) sendWithLog(ctx context.Context, entry *models.MessageLog) (*SendResult, error) {
	if err := s.logs.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create message log: %w", err)
	}

	// terminal updates must land even if the caller goes away mid-send
	finishCtx := context.WithoutCancel(ctx)
	logger := s.log.With().Str("log_id", entry.ID).Str("phone", entry.RecipientPhone).Logger()

	msgID, err := s.SendRaw(ctx, entry.RecipientPhone, entry.RenderedBody)
	if err != nil {
		if markErr := s.logs.MarkFailed(finishCtx, entry.ID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark message log as FAILED")
		}
		metrics.MessageFinished(string(models.MessageStatusFailed))
		logger.Warn().Err(err).Msg("whatsapp message failed")

		var sendErr *SendError
		if errors.As(err, &sendErr) {
			sendErr.LogID = entry.ID
		}
		return nil, err
	}

	sentAt := s.now()
	if err := s.logs.MarkSent(finishCtx, entry.ID, msgID, sentAt); err != nil {
		logger.Error().Err(err).Str("message_id", msgID).Msg("message sent but log could not be marked SENT")
	}
	metrics.MessageFinished(string(models.MessageStatusSent))

	if err := s.cache.StoreSent(finishCtx, entry.ID, msgID, sentAt); err != nil {
		logger.Warn().Err(err).Msg("failed to cache sent message")
	}

	logger.Info().Str("message_id", msgID).Msg("whatsapp message sent")
	return &SendResult{MessageID: msgID, LogID: entry.ID}, nil
}

func (s *MessageService) recipient(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return whatsapp.NormalizePhone(phone, s.cfg.DefaultCountryCode)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
