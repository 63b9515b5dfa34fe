package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"erp_wa/internal/models"
	"erp_wa/internal/whatsapp"

	"github.com/rs/zerolog"
)

type sentText struct {
	JID  string
	Text string
	// status of the newest log row at the moment the send happened
	LogStatus models.MessageStatus
}

type fakeConn struct {
	mu       sync.Mutex
	state    whatsapp.State
	sendErrs []error
	sent     []sentText
	numbers  map[string]bool
	checkErr error
	logs     *fakeLogs
	seq      int
}

func newFakeConn(logs *fakeLogs) *fakeConn {
	return &fakeConn{state: whatsapp.StateConnected, numbers: map[string]bool{}, logs: logs}
}

func (c *fakeConn) Status() whatsapp.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return whatsapp.Status{State: c.state}
}

func (c *fakeConn) SendText(_ context.Context, jid, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var st models.MessageStatus
	if c.logs != nil {
		st = c.logs.lastStatus()
	}
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	c.seq++
	c.sent = append(c.sent, sentText{JID: jid, Text: text, LogStatus: st})
	return fmt.Sprintf("WAMID-%d", c.seq), nil
}

func (c *fakeConn) CheckNumber(_ context.Context, phone string) (whatsapp.NumberCheck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkErr != nil {
		return whatsapp.NumberCheck{}, c.checkErr
	}
	if c.numbers[phone] {
		return whatsapp.NumberCheck{Exists: true, JID: phone + "@s.whatsapp.net"}, nil
	}
	return whatsapp.NumberCheck{}, nil
}

type fakeTemplates struct {
	rows map[string]models.MessageTemplate
}

func (f *fakeTemplates) FindActiveByCode(_ context.Context, code string) (*models.MessageTemplate, error) {
	tpl, ok := f.rows[code]
	if !ok || !tpl.IsActive {
		return nil, nil
	}
	return &tpl, nil
}

type fakeLogs struct {
	mu      sync.Mutex
	rows    map[string]*models.MessageLog
	order   []string
	history map[string][]models.MessageStatus
	seq     int
}

func newFakeLogs() *fakeLogs {
	return &fakeLogs{rows: map[string]*models.MessageLog{}, history: map[string][]models.MessageStatus{}}
}

func (f *fakeLogs) Create(_ context.Context, log *models.MessageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	log.ID = fmt.Sprintf("log-%d", f.seq)
	log.Status = models.MessageStatusPending
	row := *log
	f.rows[log.ID] = &row
	f.order = append(f.order, log.ID)
	f.history[log.ID] = append(f.history[log.ID], models.MessageStatusPending)
	return nil
}

func (f *fakeLogs) MarkSent(_ context.Context, id, providerMessageID string, sentAt time.Time) error {
	return f.finish(id, func(r *models.MessageLog) {
		r.Status = models.MessageStatusSent
		r.ProviderMessageID = &providerMessageID
		r.SentAt = &sentAt
	})
}

func (f *fakeLogs) MarkFailed(_ context.Context, id, reason string) error {
	return f.finish(id, func(r *models.MessageLog) {
		r.Status = models.MessageStatusFailed
		r.Error = &reason
	})
}

func (f *fakeLogs) finish(id string, apply func(*models.MessageLog)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != models.MessageStatusPending {
		return fmt.Errorf("log %s is not pending", id)
	}
	apply(row)
	f.history[id] = append(f.history[id], row.Status)
	return nil
}

func (f *fakeLogs) lastStatus() models.MessageStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) == 0 {
		return ""
	}
	return f.rows[f.order[len(f.order)-1]].Status
}

func (f *fakeLogs) all() []models.MessageLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.MessageLog, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.rows[id])
	}
	return out
}

type fakeVerifications struct {
	mu   sync.Mutex
	rows map[uint]*models.VerificationRequest
}

func newFakeVerifications() *fakeVerifications {
	return &fakeVerifications{rows: map[uint]*models.VerificationRequest{}}
}

func (f *fakeVerifications) ByUserID(_ context.Context, userID uint) (*models.VerificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeVerifications) UpsertCode(_ context.Context, req *models.VerificationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	notify := true
	if existing, ok := f.rows[req.UserID]; ok {
		notify = existing.NotificationsEnabled
	}
	row := *req
	row.IsVerified = false
	row.VerifiedAt = nil
	row.NotificationsEnabled = notify
	f.rows[req.UserID] = &row
	return nil
}

func (f *fakeVerifications) MarkVerified(_ context.Context, userID uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[userID]
	row.IsVerified = true
	row.VerifiedAt = &at
	row.Code = nil
	row.CodeExpiresAt = nil
	return nil
}

func (f *fakeVerifications) SetNotifications(_ context.Context, userID uint, enabled bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID]
	if !ok {
		return false, nil
	}
	row.NotificationsEnabled = enabled
	return true, nil
}

func (f *fakeVerifications) Delete(_ context.Context, userID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[userID]; !ok {
		return false, nil
	}
	delete(f.rows, userID)
	return true, nil
}

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	conn          *fakeConn
	templates     *fakeTemplates
	logs          *fakeLogs
	verifications *fakeVerifications
	messages      *MessageService
	verification  *VerificationService
	notifications *NotificationService
	otp           *OTPService
}

func newTestEnv() *testEnv {
	logs := newFakeLogs()
	env := &testEnv{
		conn: newFakeConn(logs),
		templates: &fakeTemplates{rows: map[string]models.MessageTemplate{
			"WHATSAPP_VERIFICATION_CODE": {Code: "WHATSAPP_VERIFICATION_CODE", Body: "Code: {{code}}, App: {{appName}}", IsActive: true},
		}},
		logs:          logs,
		verifications: newFakeVerifications(),
		otp:           NewOTPService(6, 4),
	}

	env.messages = NewMessageService(env.conn, env.templates, env.logs, nil, MessageServiceConfig{
		Defaults: TemplateDefaults{
			AppName:    "ERP",
			Location:   time.UTC,
			DateFormat: "02/01/2006",
			TimeFormat: "15:04",
		},
		DefaultCountryCode: "58",
	}, zerolog.Nop())
	env.messages.now = func() time.Time { return testNow }

	env.verification = NewVerificationService(env.conn, env.messages, env.verifications, env.otp, VerificationServiceConfig{
		TemplateCode: "WHATSAPP_VERIFICATION_CODE",
		AppName:      "ERP",
	}, zerolog.Nop())
	env.verification.now = func() time.Time { return testNow }

	env.notifications = NewNotificationService(env.messages, env.verifications)
	return env
}
