package database

import (
	"errors"
	"fmt"

	"erp_wa/internal/models"

	"gorm.io/gorm"
)

// VerificationTemplateCode is the default code of the template used to deliver OTP codes.
const VerificationTemplateCode = "WHATSAPP_VERIFICATION_CODE"

var defaultTemplates = []models.MessageTemplate{
	{
		Code:        VerificationTemplateCode,
		Name:        "Phone verification code",
		Description: "Sent when a user links a phone number for WhatsApp notifications",
		Body:        "*{{appName}}*\n\nYour verification code is: *{{code}}*\n\nIt expires in {{expiresInMinutes}} minutes. Do not share it with anyone.",
		IsActive:    true,
	},
	{
		Code:        "WHATSAPP_TEST_MESSAGE",
		Name:        "Connection test",
		Description: "Sent from the admin panel to check the linked device",
		Body:        "*{{appName}}*\n\nWhatsApp connection test sent on {{date}} at {{time}}.",
		IsActive:    true,
	},
}

// Migrate creates/updates the tables and seeds the built-in templates. The verification
// template is stored under verificationCode, or VerificationTemplateCode when empty.
func Migrate(db *gorm.DB, verificationCode string) error {
	if err := db.AutoMigrate(
		&models.MessageTemplate{},
		&models.MessageLog{},
		&models.VerificationRequest{},
	); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	return SeedTemplates(db, verificationCode)
}

// SeedTemplates inserts the built-in templates that are missing. Existing rows are left
// untouched so edits made by administrators survive restarts.
func SeedTemplates(db *gorm.DB, verificationCode string) error {
	for _, tpl := range builtinTemplates(verificationCode) {
		var existing models.MessageTemplate
		err := db.Where("code = ?", tpl.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up template %s: %w", tpl.Code, err)
		}

		row := tpl
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to seed template %s: %w", tpl.Code, err)
		}
	}
	return nil
}

func builtinTemplates(verificationCode string) []models.MessageTemplate {
	out := make([]models.MessageTemplate, len(defaultTemplates))
	copy(out, defaultTemplates)
	if verificationCode != "" {
		out[0].Code = verificationCode
	}
	return out
}
