package handlers

import (
	"context"
	"net/http"
	"time"

	"erp_wa/internal/models"
	"erp_wa/internal/services"

	"github.com/rs/zerolog"
)

type Verifier interface {
	RequestVerification(ctx context.Context, userID uint, phone, countryCode string) (*services.VerificationResult, error)
	VerifyCode(ctx context.Context, userID uint, code string) (*models.VerificationRequest, error)
	GetConfig(ctx context.Context, userID uint) (*models.VerificationRequest, error)
	UpdateNotificationPreference(ctx context.Context, userID uint, enabled bool) error
	RemoveConfig(ctx context.Context, userID uint) error
}

// VerificationHandler serves the caller's own WhatsApp configuration.
type VerificationHandler struct {
	verifier Verifier
	log      zerolog.Logger
}

type requestVerificationRequest struct {
	Phone       string `json:"phone" validate:"required,min=6,max=20"`
	CountryCode string `json:"countryCode" validate:"required,max=6"`
}

type verifyCodeRequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

type notificationPreferenceRequest struct {
	NotificationsEnabled *bool `json:"notificationsEnabled" validate:"required"`
}

// HandleGetConfig returns the caller's configuration, or null when there is none
func (h *VerificationHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.verifier.GetConfig(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if cfg == nil {
		writeSuccess(w, http.StatusOK, nil)
		return
	}
	writeSuccess(w, http.StatusOK, cfg)
}

func (h *VerificationHandler) HandleRequestVerification(w http.ResponseWriter, r *http.Request) {
	var req requestVerificationRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.verifier.RequestVerification(r.Context(), userIDFromContext(r.Context()), req.Phone, req.CountryCode)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *VerificationHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.verifier.VerifyCode(r.Context(), userIDFromContext(r.Context()), req.Code)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, struct {
		IsVerified bool       `json:"isVerified"`
		VerifiedAt *time.Time `json:"verifiedAt"`
	}{cfg.IsVerified, cfg.VerifiedAt})
}

func (h *VerificationHandler) HandleUpdateNotifications(w http.ResponseWriter, r *http.Request) {
	var req notificationPreferenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := *req.NotificationsEnabled
	if err := h.verifier.UpdateNotificationPreference(r.Context(), userIDFromContext(r.Context()), enabled); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"notificationsEnabled": enabled})
}

func (h *VerificationHandler) HandleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.verifier.RemoveConfig(r.Context(), userIDFromContext(r.Context())); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"message": "WhatsApp configuration removed"})
}
