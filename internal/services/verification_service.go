package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"erp_wa/internal/metrics"
	"erp_wa/internal/models"
	"erp_wa/internal/whatsapp"

	"github.com/rs/zerolog"
)

// CodeTTL is how long an issued verification code stays valid.
const CodeTTL = 10 * time.Minute

const codeLength = 6

type VerificationStore interface {
	ByUserID(ctx context.Context, userID uint) (*models.VerificationRequest, error)
	UpsertCode(ctx context.Context, req *models.VerificationRequest) error
	MarkVerified(ctx context.Context, userID uint, at time.Time) error
	SetNotifications(ctx context.Context, userID uint, enabled bool) (bool, error)
	Delete(ctx context.Context, userID uint) (bool, error)
}

type VerificationServiceConfig struct {
	TemplateCode string
	AppName      string
}

// VerificationResult is returned once a code has been issued and delivered.
type VerificationResult struct {
	Phone       string    `json:"phone"`
	CountryCode string    `json:"countryCode"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// VerificationService links a phone number to a user with a WhatsApp delivered OTP.
type VerificationService struct {
	conn     Connection
	messages *MessageService
	store    VerificationStore
	otp      *OTPService
	cfg      VerificationServiceConfig
	now      func() time.Time
	log      zerolog.Logger
}

func NewVerificationService(conn Connection, messages *MessageService, store VerificationStore, otp *OTPService, cfg VerificationServiceConfig, log zerolog.Logger) *VerificationService {
	return &VerificationService{
		conn:     conn,
		messages: messages,
		store:    store,
		otp:      otp,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

// RequestVerification issues a new code for the user and sends it to the phone.
func (s *VerificationService) RequestVerification(ctx context.Context, userID uint, phone, countryCode string) (*VerificationResult, error) {
	if s.conn.Status().State != whatsapp.StateConnected {
		metrics.VerificationResult("unavailable")
		return nil, ErrTransportUnavailable
	}

	phone = strings.TrimSpace(phone)
	countryCode = strings.TrimSpace(countryCode)
	full := whatsapp.JoinCountryCode(countryCode, phone)

	check, err := s.conn.CheckNumber(ctx, full)
	if err != nil {
		if errors.Is(err, whatsapp.ErrNotConnected) {
			return nil, ErrTransportUnavailable
		}
		return nil, fmt.Errorf("check number: %w", err)
	}
	if !check.Exists {
		metrics.VerificationResult("unreachable")
		return nil, ErrNumberNotReachable
	}

	code, err := s.otp.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := s.otp.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}

	expiresAt := s.now().Add(CodeTTL)
	if err := s.store.UpsertCode(ctx, &models.VerificationRequest{
		UserID:        userID,
		PhoneNumber:   phone,
		CountryCode:   countryCode,
		Code:          &hash,
		CodeExpiresAt: &expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("save verification request: %w", err)
	}

	if err := s.deliverCode(ctx, userID, full, code); err != nil {
		metrics.VerificationResult("send_failed")
		return nil, err
	}

	metrics.VerificationResult("issued")
	s.log.Info().Uint("user_id", userID).Str("phone", full).Msg("verification code issued")
	return &VerificationResult{Phone: phone, CountryCode: countryCode, ExpiresAt: expiresAt}, nil
}

// deliverCode sends the code through the verification template, or through a built-in
// body when the template is missing or its send fails for a reason other than the
// connection being down.
func (s *VerificationService) deliverCode(ctx context.Context, userID uint, phone, code string) error {
	actor := userID
	_, err := s.messages.SendTemplated(ctx, TemplatedMessage{
		TemplateCode: s.cfg.TemplateCode,
		Phone:        phone,
		Variables: map[string]string{
			"code":             code,
			"expiresInMinutes": strconv.Itoa(int(CodeTTL / time.Minute)),
		},
		ActorID: &actor,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransportUnavailable) {
		return err
	}

	s.log.Warn().Err(err).Uint("user_id", userID).Msg("verification template send failed, using fallback message")
	_, err = s.messages.SendWithLog(ctx, PlainMessage{
		Phone:   phone,
		Text:    fallbackCodeBody(s.cfg.AppName, code),
		ActorID: &actor,
	})
	return err
}

func fallbackCodeBody(appName, code string) string {
	return fmt.Sprintf("*%s*\n\nYour verification code is: *%s*\n\nIt expires in %d minutes. Do not share it with anyone.",
		appName, code, int(CodeTTL/time.Minute))
}

// VerifyCode checks code against the user's pending request.
func (s *VerificationService) VerifyCode(ctx context.Context, userID uint, code string) (*models.VerificationRequest, error) {
	req, err := s.store.ByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load verification request: %w", err)
	}
	if req == nil {
		return nil, ErrNoPendingVerification
	}
	if req.IsVerified {
		return req, nil
	}
	if !req.HasPendingCode() {
		return nil, ErrNoPendingVerification
	}

	now := s.now()
	if now.After(*req.CodeExpiresAt) {
		metrics.VerificationResult("expired")
		return nil, ErrCodeExpired
	}
	if !s.otp.Matches(*req.Code, strings.TrimSpace(code)) {
		metrics.VerificationResult("mismatch")
		return nil, ErrCodeMismatch
	}

	if err := s.store.MarkVerified(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}
	metrics.VerificationResult("verified")

	req.IsVerified = true
	req.VerifiedAt = &now
	req.Code = nil
	req.CodeExpiresAt = nil
	return req, nil
}

// GetConfig returns the user's configuration row, or nil.
func (s *VerificationService) GetConfig(ctx context.Context, userID uint) (*models.VerificationRequest, error) {
	return s.store.ByUserID(ctx, userID)
}

func (s *VerificationService) UpdateNotificationPreference(ctx context.Context, userID uint, enabled bool) error {
	found, err := s.store.SetNotifications(ctx, userID, enabled)
	if err != nil {
		return fmt.Errorf("update notification preference: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *VerificationService) RemoveConfig(ctx context.Context, userID uint) error {
	found, err := s.store.Delete(ctx, userID)
	if err != nil {
		return fmt.Errorf("remove config: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}
