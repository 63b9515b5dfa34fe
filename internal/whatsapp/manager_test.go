package whatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"erp_wa/internal/eventbus"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	openErr  error
	sink     EventSink
	sent     []string
	sendErr  error
	exists   map[string]string
	logouts  int
	closes   int
	clears   int
	clearErr error
	// gate, when set, holds the next Open until it is closed
	gate chan struct{}
}

func (f *fakeTransport) Open(_ context.Context, sink EventSink) error {
	f.mu.Lock()
	f.opens++
	if f.openErr != nil {
		f.mu.Unlock()
		return f.openErr
	}
	f.sink = sink
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeTransport) Send(_ context.Context, jid, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, jid+"|"+text)
	return "MSG-1", nil
}

func (f *fakeTransport) Exists(_ context.Context, phone string) (NumberCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if jid, ok := f.exists[phone]; ok {
		return NumberCheck{Exists: true, JID: jid}, nil
	}
	return NumberCheck{}, nil
}

func (f *fakeTransport) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeTransport) ClearCredentials(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return f.clearErr
}

func (f *fakeTransport) emit(evt TransportEvent) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(evt)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func newTestManager(t *testing.T, ft *fakeTransport, max int, delay time.Duration) (*Manager, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(zerolog.Nop())
	m := NewManager(ft, bus, ManagerConfig{MaxReconnectAttempts: max, ReconnectDelay: delay}, zerolog.Nop())
	t.Cleanup(m.Close)
	return m, bus
}

func opened(phone string) TransportEvent {
	return TransportEvent{Kind: EventOpened, Identity: &DeviceIdentity{Phone: phone, Name: "ERP Bot"}}
}

func closed(loggedOut bool) TransportEvent {
	return TransportEvent{Kind: EventClosed, Close: CloseReason{LoggedOut: loggedOut, Detail: "test"}}
}

func TestConnect_PairingThenOpen(t *testing.T) {
	ft := &fakeTransport{}
	m, bus := newTestManager(t, ft, 5, time.Hour)

	var qrCodes []string
	var states []State
	bus.Subscribe(eventbus.TopicQR, func(p any) error { qrCodes = append(qrCodes, p.(QREvent).Code); return nil })
	bus.Subscribe(eventbus.TopicStatus, func(p any) error { states = append(states, p.(Status).State); return nil })

	assert.Equal(t, StateDisconnected, m.Status().State)

	st, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, st.State)

	ft.emit(TransportEvent{Kind: EventPairingCode, Code: "code-1"})
	st = m.Status()
	assert.Equal(t, StateAwaitingPairing, st.State)
	assert.Equal(t, "code-1", st.PairingCode)
	assert.Contains(t, st.PairingImage, "data:image/png;base64,")
	assert.Nil(t, st.DeviceIdentity)

	ft.emit(TransportEvent{Kind: EventPairingCode, Code: "code-2"})
	assert.Equal(t, "code-2", m.Status().PairingCode)

	ft.emit(opened("584121234567"))
	st = m.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.Empty(t, st.PairingCode)
	require.NotNil(t, st.DeviceIdentity)
	assert.Equal(t, "584121234567", st.DeviceIdentity.Phone)

	assert.Equal(t, []string{"code-1", "code-2"}, qrCodes)
	assert.Equal(t, []State{StateConnecting, StateAwaitingPairing, StateAwaitingPairing, StateConnected}, states)
}

func TestConnect_IsIdempotentWhileActive(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft, 5, time.Hour)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	_, err = m.Connect(context.Background())
	require.NoError(t, err)

	ft.emit(opened("1"))
	st, err := m.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, 1, ft.openCount())
}

func TestConnect_OpenErrorLeavesDisconnected(t *testing.T) {
	ft := &fakeTransport{openErr: errors.New("store locked")}
	m, _ := newTestManager(t, ft, 5, time.Millisecond)

	st, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "store locked")
	assert.Equal(t, StateDisconnected, st.State)

	// a manual connect failure does not start the retry loop
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, ft.openCount())
}

func TestClose_ReconnectIsBounded(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft, 2, 5*time.Millisecond)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	ft.emit(closed(false))
	require.Eventually(t, func() bool { return ft.openCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, m.Status().ReconnectAttempts)

	ft.emit(closed(false))
	require.Eventually(t, func() bool { return ft.openCount() == 3 }, time.Second, time.Millisecond)

	ft.emit(closed(false))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 3, ft.openCount())
	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.Equal(t, 2, m.Status().ReconnectAttempts)

	// an explicit connect starts over
	_, err = m.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, ft.openCount())
	assert.Equal(t, 0, m.Status().ReconnectAttempts)
}

func TestOpen_ResetsAttempts(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft, 3, 5*time.Millisecond)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	ft.emit(closed(false))
	require.Eventually(t, func() bool { return ft.openCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, m.Status().ReconnectAttempts)

	ft.emit(opened("1"))
	assert.Equal(t, 0, m.Status().ReconnectAttempts)
	assert.Equal(t, StateConnected, m.Status().State)
}

func TestClose_RevokedClearsCredentials(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft, 5, 5*time.Millisecond)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	ft.emit(opened("1"))

	ft.emit(closed(true))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.Nil(t, m.Status().DeviceIdentity)
	assert.Equal(t, 1, ft.openCount())
	ft.mu.Lock()
	assert.Equal(t, 1, ft.clears)
	ft.mu.Unlock()
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft, 5, 30*time.Millisecond)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	ft.emit(opened("1"))
	ft.emit(closed(false))
	assert.Equal(t, 1, m.Status().ReconnectAttempts)

	require.NoError(t, m.Disconnect(context.Background()))
	time.Sleep(80 * time.Millisecond)

	st := m.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, 1, ft.openCount())

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, 1, ft.logouts)
	assert.Equal(t, 1, ft.clears)
}

func TestDisconnect_IgnoresLateEvents(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft, 5, time.Millisecond)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(context.Background()))

	ft.emit(TransportEvent{Kind: EventPairingCode, Code: "late"})
	ft.emit(opened("1"))
	ft.emit(closed(false))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.Empty(t, m.Status().PairingCode)
	assert.Equal(t, 1, ft.openCount())
}

func TestDisconnect_ReportsCredentialError(t *testing.T) {
	ft := &fakeTransport{clearErr: errors.New("disk full")}
	m, _ := newTestManager(t, ft, 5, time.Hour)

	err := m.Disconnect(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, StateDisconnected, m.Status().State)
}

func TestSendText_RequiresConnected(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft, 5, time.Hour)

	_, err := m.SendText(context.Background(), "1@s.whatsapp.net", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = m.Connect(context.Background())
	require.NoError(t, err)
	ft.emit(opened("1"))

	id, err := m.SendText(context.Background(), "584121234567@s.whatsapp.net", "hi")
	require.NoError(t, err)
	assert.Equal(t, "MSG-1", id)
	assert.Equal(t, []string{"584121234567@s.whatsapp.net|hi"}, ft.sent)
}

func TestCheckNumber(t *testing.T) {
	ft := &fakeTransport{exists: map[string]string{"584121234567": "584121234567@s.whatsapp.net"}}
	m, _ := newTestManager(t, ft, 5, time.Hour)

	_, err := m.CheckNumber(context.Background(), "584121234567")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = m.Connect(context.Background())
	require.NoError(t, err)
	ft.emit(opened("1"))

	res, err := m.CheckNumber(context.Background(), "+58 412 1234567")
	require.NoError(t, err)
	assert.True(t, res.Exists)

	res, err = m.CheckNumber(context.Background(), "000")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestInboundMessagePublished(t *testing.T) {
	ft := &fakeTransport{}
	m, bus := newTestManager(t, ft, 5, time.Hour)

	var got []InboundMessage
	bus.Subscribe(eventbus.TopicMessage, func(p any) error { got = append(got, p.(InboundMessage)); return nil })

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	ft.emit(opened("1"))
	ft.emit(TransportEvent{Kind: EventMessage, Message: &InboundMessage{ID: "A", From: "58412", Text: "hola"}})

	require.Len(t, got, 1)
	assert.Equal(t, "hola", got[0].Text)
}

func TestStatus_ConcurrentReaders(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft, 5, time.Hour)
	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.Status()
			}
		}()
	}
	for i := 0; i < 20; i++ {
		ft.emit(TransportEvent{Kind: EventPairingCode, Code: "c"})
	}
	wg.Wait()
	assert.Equal(t, StateAwaitingPairing, m.Status().State)
}

func TestConnect_SupersededOpenLeavesNewSessionAlone(t *testing.T) {
	ft := &fakeTransport{gate: make(chan struct{})}
	gate := ft.gate
	m, _ := newTestManager(t, ft, 5, time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return ft.openCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Disconnect(context.Background()))
	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ft.openCount())
	closesBefore := ft.closeCount()

	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, closesBefore, ft.closeCount())
	ft.emit(opened("584121234567"))
	assert.Equal(t, StateConnected, m.Status().State)
}
