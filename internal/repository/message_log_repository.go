package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"erp_wa/internal/models"

	"gorm.io/gorm"
)

// ErrLogFinalized is returned when a terminal update targets a log that is not PENDING
var ErrLogFinalized = errors.New("message log is not pending")

const maxListLimit = 200

// MessageLogRepository persists outbound message attempts
type MessageLogRepository struct {
	db *gorm.DB
}

// NewMessageLogRepository creates a new message log repository
func NewMessageLogRepository(db *gorm.DB) *MessageLogRepository {
	return &MessageLogRepository{db: db}
}

// Create inserts a PENDING log row and fills in its ID
func (r *MessageLogRepository) Create(ctx context.Context, log *models.MessageLog) error {
	log.Status = models.MessageStatusPending
	return r.db.WithContext(ctx).Create(log).Error
}

// MarkSent moves a PENDING row to SENT
func (r *MessageLogRepository) MarkSent(ctx context.Context, id, providerMessageID string, sentAt time.Time) error {
	return r.finish(ctx, id, map[string]interface{}{
		"status":              models.MessageStatusSent,
		"provider_message_id": providerMessageID,
		"sent_at":             sentAt,
	})
}

// MarkFailed moves a PENDING row to FAILED
func (r *MessageLogRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.finish(ctx, id, map[string]interface{}{
		"status": models.MessageStatusFailed,
		"error":  reason,
	})
}

// finish applies a terminal update. The status guard keeps terminal rows immutable.
func (r *MessageLogRepository) finish(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.MessageLog{}).
		Where("id = ? AND status = ?", id, models.MessageStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrLogFinalized, id)
	}
	return nil
}

// ByID retrieves a log by its ID, or nil
func (r *MessageLogRepository) ByID(ctx context.Context, id string) (*models.MessageLog, error) {
	var row models.MessageLog
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// List returns logs matching filter, newest first, with the total match count
func (r *MessageLogRepository) List(ctx context.Context, filter models.MessageLogFilter) ([]models.MessageLog, int64, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.MessageLog{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}

	var rows []models.MessageLog
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *MessageLogRepository) applyFilter(query *gorm.DB, filter models.MessageLogFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Phone != "" {
		query = query.Where("recipient_phone = ?", filter.Phone)
	}
	if filter.TemplateCode != "" {
		query = query.Where("template_code = ?", filter.TemplateCode)
	}
	return query
}
