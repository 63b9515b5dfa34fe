package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"erp_wa/internal/eventbus"
	"erp_wa/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
)

// State of the WhatsApp session.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
)

// Status is an immutable snapshot of the session.
type Status struct {
	State             State           `json:"state"`
	PairingCode       string          `json:"pairingCode,omitempty"`
	PairingImage      string          `json:"pairingImage,omitempty"`
	DeviceIdentity    *DeviceIdentity `json:"deviceIdentity,omitempty"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
}

// QREvent is published on the qr topic every time the pairing code rotates.
type QREvent struct {
	Code  string `json:"code"`
	Image string `json:"image,omitempty"`
}

type ManagerConfig struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// Manager owns the single transport session of the process. All state changes happen
// under mu; readers get the last committed snapshot through Status without locking.
type Manager struct {
	transport Transport
	bus       *eventbus.Bus
	cfg       ManagerConfig
	log       zerolog.Logger

	mu           sync.Mutex
	state        State
	pairingCode  string
	pairingImage string
	identity     *DeviceIdentity
	attempts     int
	// generation is bumped whenever a session is started or torn down; events and
	// timers carrying an older generation are ignored.
	generation     uint64
	reconnectTimer *time.Timer

	status atomic.Pointer[Status]
}

func NewManager(transport Transport, bus *eventbus.Bus, cfg ManagerConfig, log zerolog.Logger) *Manager {
	m := &Manager{
		transport: transport,
		bus:       bus,
		cfg:       cfg,
		log:       log,
		state:     StateDisconnected,
	}
	m.commitLocked()
	return m
}

// Status returns the current session snapshot.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// Connect starts the session unless one is already starting, pairing or connected, in
// which case it only returns the current status.
func (m *Manager) Connect(ctx context.Context) (Status, error) {
	return m.connect(ctx, true, 0)
}

func (m *Manager) connect(ctx context.Context, manual bool, expectGen uint64) (Status, error) {
	m.mu.Lock()
	if m.state != StateDisconnected || (expectGen != 0 && expectGen != m.generation) {
		m.mu.Unlock()
		return m.Status(), nil
	}
	m.stopReconnectLocked()
	if manual {
		m.attempts = 0
	}
	m.generation++
	gen := m.generation
	m.state = StateConnecting
	m.clearSessionLocked()
	st := m.commitLocked()
	m.mu.Unlock()

	m.bus.Publish(eventbus.TopicStatus, st)
	m.log.Info().Bool("manual", manual).Int("attempt", st.ReconnectAttempts).Msg("opening whatsapp transport")

	if err := m.openTransport(ctx, gen); err != nil {
		m.log.Error().Err(err).Msg("failed to open whatsapp transport")

		m.mu.Lock()
		current := m.generation == gen
		if current {
			m.state = StateDisconnected
			m.clearSessionLocked()
			if !manual {
				m.retryLocked(gen)
			}
			st = m.commitLocked()
		}
		m.mu.Unlock()

		if current {
			m.bus.Publish(eventbus.TopicStatus, st)
		}
		return m.Status(), fmt.Errorf("open transport: %w", err)
	}

	m.mu.Lock()
	superseded := m.generation != gen
	m.mu.Unlock()
	if superseded {
		// Disconnect, Close or a newer Connect ran while the transport was opening. The
		// transport drops the connection it opened; closing here would hit the newer one.
		m.log.Debug().Uint64("generation", gen).Msg("transport open superseded")
	}

	return m.Status(), nil
}

func (m *Manager) openTransport(ctx context.Context, gen uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return m.transport.Open(ctx, func(evt TransportEvent) { m.handleEvent(gen, evt) })
}

// Disconnect logs the session out, wipes the stored credentials and cancels any
// scheduled reconnect.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	m.stopReconnectLocked()
	m.attempts = 0
	m.state = StateDisconnected
	m.clearSessionLocked()
	st := m.commitLocked()
	m.mu.Unlock()

	var errs []error
	if err := m.transport.Logout(ctx); err != nil {
		m.log.Warn().Err(err).Msg("whatsapp logout failed")
		errs = append(errs, fmt.Errorf("logout: %w", err))
	}
	m.transport.Close()
	if err := m.transport.ClearCredentials(ctx); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear whatsapp credentials")
		errs = append(errs, fmt.Errorf("clear credentials: %w", err))
	}

	m.bus.Publish(eventbus.TopicStatus, st)
	m.log.Info().Msg("whatsapp session disconnected by request")
	return errors.Join(errs...)
}

// Close stops the session without logging out, keeping credentials for the next start.
func (m *Manager) Close() {
	m.mu.Lock()
	m.generation++
	m.stopReconnectLocked()
	m.state = StateDisconnected
	m.clearSessionLocked()
	m.commitLocked()
	m.mu.Unlock()

	m.transport.Close()
}

// SendText sends a text message to an address in transport form.
func (m *Manager) SendText(ctx context.Context, jid, text string) (string, error) {
	if m.Status().State != StateConnected {
		return "", ErrNotConnected
	}
	return m.transport.Send(ctx, jid, text)
}

// CheckNumber asks the transport whether phone has a WhatsApp account.
func (m *Manager) CheckNumber(ctx context.Context, phone string) (NumberCheck, error) {
	if m.Status().State != StateConnected {
		return NumberCheck{}, ErrNotConnected
	}
	return m.transport.Exists(ctx, digitsOnly(phone))
}

func (m *Manager) handleEvent(gen uint64, evt TransportEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("event", evt.Kind.String()).Msg("whatsapp event handler panicked")
		}
	}()

	switch evt.Kind {
	case EventPairingCode:
		m.onPairingCode(gen, evt.Code)
	case EventOpened:
		m.onOpened(gen, evt.Identity)
	case EventClosed:
		m.onClosed(gen, evt.Close)
	case EventMessage:
		if evt.Message != nil && m.isCurrent(gen) {
			m.bus.Publish(eventbus.TopicMessage, *evt.Message)
		}
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) onPairingCode(gen uint64, code string) {
	image, err := pairingImage(code)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to render pairing QR")
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.state = StateAwaitingPairing
	m.pairingCode = code
	m.pairingImage = image
	st := m.commitLocked()
	m.mu.Unlock()

	m.log.Debug().Msg("pairing code rotated")
	m.bus.Publish(eventbus.TopicQR, QREvent{Code: code, Image: image})
	m.bus.Publish(eventbus.TopicStatus, st)
}

func (m *Manager) onOpened(gen uint64, identity *DeviceIdentity) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.pairingCode = ""
	m.pairingImage = ""
	m.identity = identity
	m.attempts = 0
	st := m.commitLocked()
	m.mu.Unlock()

	ev := m.log.Info()
	if identity != nil {
		ev = ev.Str("phone", identity.Phone).Str("name", identity.Name)
	}
	ev.Msg("whatsapp session connected")
	m.bus.Publish(eventbus.TopicStatus, st)
}

func (m *Manager) onClosed(gen uint64, reason CloseReason) {
	m.mu.Lock()
	if gen != m.generation || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.clearSessionLocked()
	if reason.LoggedOut {
		m.attempts = 0
		m.stopReconnectLocked()
	} else {
		m.retryLocked(gen)
	}
	st := m.commitLocked()
	m.mu.Unlock()

	if reason.LoggedOut {
		m.log.Warn().Str("reason", reason.Detail).Msg("whatsapp session revoked, clearing credentials")
		if err := m.transport.ClearCredentials(context.Background()); err != nil {
			m.log.Error().Err(err).Msg("failed to clear whatsapp credentials")
		}
	} else {
		m.log.Warn().Str("reason", reason.Detail).Msg("whatsapp connection closed")
	}
	m.bus.Publish(eventbus.TopicStatus, st)
}

// retryLocked schedules a reconnect while the attempt budget lasts.
func (m *Manager) retryLocked(gen uint64) {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.log.Warn().Int("attempts", m.attempts).Msg("reconnect limit reached, waiting for manual connect")
		return
	}
	m.attempts++
	m.stopReconnectLocked()
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() { m.reconnect(gen) })
	metrics.ReconnectScheduled()
	m.log.Info().Int("attempt", m.attempts).Int("max", m.cfg.MaxReconnectAttempts).Dur("delay", m.cfg.ReconnectDelay).Msg("reconnect scheduled")
}

func (m *Manager) reconnect(gen uint64) {
	if _, err := m.connect(context.Background(), false, gen); err != nil {
		m.log.Warn().Err(err).Msg("scheduled reconnect failed")
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) clearSessionLocked() {
	m.pairingCode = ""
	m.pairingImage = ""
	m.identity = nil
}

func (m *Manager) commitLocked() Status {
	st := Status{
		State:             m.state,
		PairingCode:       m.pairingCode,
		PairingImage:      m.pairingImage,
		ReconnectAttempts: m.attempts,
	}
	if m.identity != nil {
		id := *m.identity
		st.DeviceIdentity = &id
	}
	m.status.Store(&st)
	metrics.SetConnectionState(string(st.State))
	return st
}

// pairingImage renders the pairing code as a PNG data URL.
func pairingImage(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
