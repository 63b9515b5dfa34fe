package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"erp_wa/internal/cache"
	"erp_wa/internal/models"
	"erp_wa/internal/services"
	"erp_wa/internal/whatsapp"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Session is the connection manager as seen by the HTTP layer.
type Session interface {
	Status() whatsapp.Status
	Connect(ctx context.Context) (whatsapp.Status, error)
	Disconnect(ctx context.Context) error
	CheckNumber(ctx context.Context, phone string) (whatsapp.NumberCheck, error)
}

type Messenger interface {
	SendWithLog(ctx context.Context, msg services.PlainMessage) (*services.SendResult, error)
	Delivery(ctx context.Context, logID string) (*cache.SentRecord, error)
}

type MessageLogReader interface {
	ByID(ctx context.Context, id string) (*models.MessageLog, error)
	List(ctx context.Context, filter models.MessageLogFilter) ([]models.MessageLog, int64, error)
}

type Notifier interface {
	NotifyUser(ctx context.Context, userID uint, templateCode string, vars map[string]string, actorID *uint) (*services.NotifyResult, error)
}

type WhatsAppHandler struct {
	session            Session
	messages           Messenger
	logs               MessageLogReader
	notifier           Notifier
	connectGrace       time.Duration
	defaultCountryCode string
	log                zerolog.Logger
}

type testMessageRequest struct {
	Phone         string `json:"phone" validate:"required,max=32"`
	Message       string `json:"message" validate:"required,max=4096"`
	RecipientName string `json:"recipientName" validate:"max=150"`
}

type checkNumberRequest struct {
	Phone       string `json:"phone" validate:"required,max=32"`
	CountryCode string `json:"countryCode" validate:"max=6"`
}

type notifyRequest struct {
	UserID       uint              `json:"userId" validate:"required"`
	TemplateCode string            `json:"templateCode" validate:"required,max=100"`
	Variables    map[string]string `json:"variables"`
}

// HandleStatus returns the current session snapshot
func (h *WhatsAppHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.session.Status())
}

// HandleConnect starts the session and reports the status after a short grace
// period, long enough for a pairing code to show up.
func (h *WhatsAppHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session.Connect(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("whatsapp connect failed")
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.connectGrace > 0 {
		timer := time.NewTimer(h.connectGrace)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
		}
	}

	writeSuccess(w, http.StatusOK, h.session.Status())
}

func (h *WhatsAppHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Disconnect(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("whatsapp disconnect failed")
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "WhatsApp session disconnected",
		"state":   h.session.Status().State,
	})
}

// HandleTestMessage sends a plain logged message
func (h *WhatsAppHandler) HandleTestMessage(w http.ResponseWriter, r *http.Request) {
	var req testMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := userIDFromContext(r.Context())
	res, err := h.messages.SendWithLog(r.Context(), services.PlainMessage{
		Phone:         req.Phone,
		Text:          req.Message,
		RecipientName: req.RecipientName,
		ActorID:       &actor,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *WhatsAppHandler) HandleCheckNumber(w http.ResponseWriter, r *http.Request) {
	var req checkNumberRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	phone := whatsapp.NormalizePhone(req.Phone, h.defaultCountryCode)
	if strings.TrimSpace(req.CountryCode) != "" {
		phone = whatsapp.JoinCountryCode(req.CountryCode, req.Phone)
	}

	check, err := h.session.CheckNumber(r.Context(), phone)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, check)
}

// HandleListLogs lists message logs, newest first
func (h *WhatsAppHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.MessageLogFilter{
		Status:       models.MessageStatus(strings.ToUpper(q.Get("status"))),
		Phone:        q.Get("phone"),
		TemplateCode: q.Get("templateCode"),
	}
	switch filter.Status {
	case "", models.MessageStatusPending, models.MessageStatusSent, models.MessageStatusFailed:
	default:
		writeFailure(w, http.StatusBadRequest, "status must be one of [PENDING SENT FAILED]")
		return
	}
	if filter.Phone != "" {
		filter.Phone = whatsapp.NormalizePhone(filter.Phone, h.defaultCountryCode)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeFailure(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeFailure(w, http.StatusBadRequest, "offset must be a positive integer")
			return
		}
		filter.Offset = n
	}

	rows, total, err := h.logs.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"items":  rows,
		"total":  total,
		"offset": filter.Offset,
	})
}

// HandleDelivery reports the delivery record of a log, from the cache when present and
// from the log row otherwise.
func (h *WhatsAppHandler) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.messages.Delivery(r.Context(), id)
	if err != nil {
		h.log.Warn().Err(err).Str("log_id", id).Msg("delivery cache lookup failed")
	}
	if rec != nil {
		writeSuccess(w, http.StatusOK, map[string]interface{}{
			"logId":             id,
			"status":            models.MessageStatusSent,
			"providerMessageId": rec.ProviderMessageID,
			"sentAt":            rec.SentAt,
			"final":             true,
			"cached":            true,
		})
		return
	}

	row, err := h.logs.ByID(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if row == nil {
		writeFailure(w, http.StatusNotFound, "message log not found")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"logId":             row.ID,
		"status":            row.Status,
		"providerMessageId": row.ProviderMessageID,
		"sentAt":            row.SentAt,
		"error":             row.Error,
		"final":             row.IsTerminal(),
		"cached":            false,
	})
}

// HandleNotify sends a templated notification to another user's verified phone
func (h *WhatsAppHandler) HandleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := userIDFromContext(r.Context())
	res, err := h.notifier.NotifyUser(r.Context(), req.UserID, req.TemplateCode, req.Variables, &actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
