package repository

import (
	"context"
	"errors"

	"erp_wa/internal/models"

	"gorm.io/gorm"
)

// TemplateRepository reads message templates
type TemplateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// FindActiveByCode returns the active template with the given code, or nil
func (r *TemplateRepository) FindActiveByCode(ctx context.Context, code string) (*models.MessageTemplate, error) {
	var row models.MessageTemplate
	err := r.db.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
