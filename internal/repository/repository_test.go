package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"erp_wa/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "repo.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.MessageTemplate{}, &models.MessageLog{}, &models.VerificationRequest{}))
	return db
}

func strPtr(s string) *string { return &s }

func TestTemplateRepository_FindActiveByCode(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.MessageTemplate{Code: "ACTIVE", Body: "hi", IsActive: true}).Error)
	inactive := models.MessageTemplate{Code: "OFF", Body: "bye", IsActive: true}
	require.NoError(t, db.Create(&inactive).Error)
	require.NoError(t, db.Model(&inactive).Update("is_active", false).Error)

	tpl, err := repo.FindActiveByCode(ctx, "ACTIVE")
	require.NoError(t, err)
	require.NotNil(t, tpl)
	assert.Equal(t, "hi", tpl.Body)

	tpl, err = repo.FindActiveByCode(ctx, "OFF")
	require.NoError(t, err)
	assert.Nil(t, tpl)

	tpl, err = repo.FindActiveByCode(ctx, "MISSING")
	require.NoError(t, err)
	assert.Nil(t, tpl)
}

func TestMessageLogRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageLogRepository(db)
	ctx := context.Background()

	entry := &models.MessageLog{
		TemplateCode:   strPtr("OTP"),
		RecipientPhone: "584121234567",
		RenderedBody:   "Code: 1",
	}
	require.NoError(t, repo.Create(ctx, entry))
	require.NotEmpty(t, entry.ID)

	got, err := repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, got.Status)

	sentAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.MarkSent(ctx, entry.ID, "WA-1", sentAt))

	got, err = repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	require.NotNil(t, got.ProviderMessageID)
	assert.Equal(t, "WA-1", *got.ProviderMessageID)
	require.NotNil(t, got.SentAt)

	// terminal rows are immutable
	err = repo.MarkFailed(ctx, entry.ID, "late failure")
	assert.ErrorIs(t, err, ErrLogFinalized)

	got, err = repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	assert.Nil(t, got.Error)
}

func TestMessageLogRepository_FailedTargetsOwnRow(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageLogRepository(db)
	ctx := context.Background()

	first := &models.MessageLog{RecipientPhone: "58412", RenderedBody: "a"}
	second := &models.MessageLog{RecipientPhone: "58412", RenderedBody: "b"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	require.NoError(t, repo.MarkFailed(ctx, first.ID, "boom"))

	a, err := repo.ByID(ctx, first.ID)
	require.NoError(t, err)
	b, err := repo.ByID(ctx, second.ID)
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusFailed, a.Status)
	require.NotNil(t, a.Error)
	assert.Equal(t, "boom", *a.Error)
	assert.Equal(t, models.MessageStatusPending, b.Status)
}

func TestMessageLogRepository_List(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageLogRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &models.MessageLog{RecipientPhone: "1", RenderedBody: "x"}))
	}
	other := &models.MessageLog{RecipientPhone: "2", RenderedBody: "y"}
	require.NoError(t, repo.Create(ctx, other))
	require.NoError(t, repo.MarkSent(ctx, other.ID, "id", time.Now()))

	rows, total, err := repo.List(ctx, models.MessageLogFilter{Phone: "1", Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, rows, 2)

	rows, total, err = repo.List(ctx, models.MessageLogFilter{Status: models.MessageStatusSent})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, other.ID, rows[0].ID)
}

func TestVerificationRepository_UpsertAndVerify(t *testing.T) {
	db := newTestDB(t)
	repo := NewVerificationRepository(db)
	ctx := context.Background()

	row, err := repo.ByUserID(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, row)

	expires := time.Now().Add(10 * time.Minute)
	require.NoError(t, repo.UpsertCode(ctx, &models.VerificationRequest{
		UserID: 7, PhoneNumber: "4121234567", CountryCode: "+58",
		Code: strPtr("hash-1"), CodeExpiresAt: &expires,
	}))

	row, err = repo.ByUserID(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.NotificationsEnabled)
	assert.False(t, row.IsVerified)
	require.NotNil(t, row.Code)
	assert.Equal(t, "hash-1", *row.Code)

	// preference survives re-issue
	found, err := repo.SetNotifications(ctx, 7, false)
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, repo.UpsertCode(ctx, &models.VerificationRequest{
		UserID: 7, PhoneNumber: "4127654321", CountryCode: "+58",
		Code: strPtr("hash-2"), CodeExpiresAt: &expires,
	}))

	row, err = repo.ByUserID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "4127654321", row.PhoneNumber)
	assert.Equal(t, "hash-2", *row.Code)
	assert.False(t, row.NotificationsEnabled)

	var count int64
	require.NoError(t, db.Model(&models.VerificationRequest{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	now := time.Now()
	require.NoError(t, repo.MarkVerified(ctx, 7, now))
	row, err = repo.ByUserID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, row.IsVerified)
	assert.Nil(t, row.Code)
	assert.Nil(t, row.CodeExpiresAt)
	require.NotNil(t, row.VerifiedAt)
}

func TestVerificationRepository_MissingRow(t *testing.T) {
	db := newTestDB(t)
	repo := NewVerificationRepository(db)
	ctx := context.Background()

	found, err := repo.SetNotifications(ctx, 99, true)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = repo.Delete(ctx, 99)
	require.NoError(t, err)
	assert.False(t, found)

	expires := time.Now().Add(time.Minute)
	require.NoError(t, repo.UpsertCode(ctx, &models.VerificationRequest{
		UserID: 99, PhoneNumber: "1", CountryCode: "+1", Code: strPtr("h"), CodeExpiresAt: &expires,
	}))
	found, err = repo.Delete(ctx, 99)
	require.NoError(t, err)
	assert.True(t, found)

	row, err := repo.ByUserID(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, row)
}
