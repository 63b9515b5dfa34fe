package repository

import (
	"context"
	"errors"
	"time"

	"erp_wa/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VerificationRepository persists per-user WhatsApp configuration and OTP state
type VerificationRepository struct {
	db *gorm.DB
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *gorm.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// ByUserID returns the user's row, or nil
func (r *VerificationRepository) ByUserID(ctx context.Context, userID uint) (*models.VerificationRequest, error) {
	var row models.VerificationRequest
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpsertCode stores a freshly issued code. A new row starts with notifications enabled;
// an existing row keeps its notification preference and loses its verified state.
func (r *VerificationRepository) UpsertCode(ctx context.Context, req *models.VerificationRequest) error {
	req.IsVerified = false
	req.VerifiedAt = nil
	req.NotificationsEnabled = true

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"phone_number", "country_code", "code", "code_expires_at",
			"is_verified", "verified_at", "updated_at",
		}),
	}).Create(req).Error
}

// MarkVerified flags the row verified and clears the code
func (r *VerificationRepository) MarkVerified(ctx context.Context, userID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_verified":     true,
			"verified_at":     at,
			"code":            nil,
			"code_expires_at": nil,
		}).Error
}

// SetNotifications updates the preference and reports whether a row existed
func (r *VerificationRepository) SetNotifications(ctx context.Context, userID uint, enabled bool) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("user_id = ?", userID).
		Update("notifications_enabled", enabled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Delete removes the user's row and reports whether one existed
func (r *VerificationRepository) Delete(ctx context.Context, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.VerificationRequest{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
