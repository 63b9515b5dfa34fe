package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// StoreConfig selects where whatsmeow keeps the device credentials.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres"/"pgx".
	Driver string
	DSN    string
}

// WhatsmeowTransport implements Transport on top of a whatsmeow client.
type WhatsmeowTransport struct {
	cfg StoreConfig
	log zerolog.Logger

	storeMu sync.Mutex
	store   *sqlstore.Container

	mu        sync.Mutex
	client    *whatsmeow.Client
	handlerID uint32
	cancel    context.CancelFunc
}

func NewWhatsmeowTransport(cfg StoreConfig, log zerolog.Logger) *WhatsmeowTransport {
	return &WhatsmeowTransport{cfg: cfg, log: log}
}

// credentials opens the device store on first use and reuses it afterwards. Only a
// successfully opened store is kept; a failed attempt is retried on the next call.
func (t *WhatsmeowTransport) credentials(ctx context.Context) (*sqlstore.Container, error) {
	t.storeMu.Lock()
	defer t.storeMu.Unlock()
	if t.store != nil {
		return t.store, nil
	}

	// the container outlives the request that happens to open it
	ctx = context.WithoutCancel(ctx)
	dbLog := waLog.Zerolog(t.log.With().Str("module", "store").Logger())

	var (
		store *sqlstore.Container
		err   error
	)
	switch strings.ToLower(t.cfg.Driver) {
	case "postgres", "pgx":
		if t.cfg.DSN == "" {
			return nil, errors.New("WA_STORE_DSN is required when WA_STORE_DRIVER=postgres")
		}
		// Using pgx stdlib driver name "pgx"
		store, err = sqlstore.New(ctx, "pgx", t.cfg.DSN, dbLog)
	default:
		dsn := t.cfg.DSN
		if dsn == "" {
			dsn = "file:whatsapp_session.db?_pragma=foreign_keys(1)&_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL"
		}
		store, err = sqlstore.New(ctx, "sqlite", dsn, dbLog)
	}
	if err != nil {
		return nil, err
	}

	t.store = store
	return store, nil
}

func (t *WhatsmeowTransport) Open(ctx context.Context, sink EventSink) error {
	store, err := t.credentials(ctx)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	deviceStore, err := store.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device store: %w", err)
	}

	// Drop whatever is left of a previous session
	t.Close()

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(t.log.With().Str("module", "client").Logger()))
	// Reconnects are driven by the Manager's bounded policy
	client.EnableAutoReconnect = false

	sessionCtx, cancel := context.WithCancel(context.Background())
	handlerID := client.AddEventHandler(func(evt interface{}) { t.dispatch(client, evt, sink) })

	if deviceStore.ID == nil {
		t.log.Debug().Msg("no stored session, waiting for pairing")
		qrChan, err := client.GetQRChannel(sessionCtx)
		if err != nil {
			cancel()
			client.RemoveEventHandler(handlerID)
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		go t.waitForQR(qrChan, sink)
	} else {
		t.log.Debug().Str("jid", deviceStore.ID.String()).Msg("found existing session, restoring")
	}

	// published before Connect so events.Connected never sees a missing client
	t.adopt(client, handlerID, cancel)

	if err := client.Connect(); err != nil {
		t.release(client)
		return fmt.Errorf("failed to connect client: %w", err)
	}

	if !t.owns(client) {
		// Close or a newer Open replaced this client while it was connecting
		t.log.Debug().Msg("whatsapp client superseded while connecting, dropping it")
		client.RemoveEventHandler(handlerID)
		client.Disconnect()
		cancel()
	}
	return nil
}

func (t *WhatsmeowTransport) adopt(client *whatsmeow.Client, handlerID uint32, cancel context.CancelFunc) {
	t.mu.Lock()
	t.client = client
	t.handlerID = handlerID
	t.cancel = cancel
	t.mu.Unlock()
}

// release drops client if it is still the current one and tears it down.
func (t *WhatsmeowTransport) release(client *whatsmeow.Client) {
	t.mu.Lock()
	if t.client != client {
		t.mu.Unlock()
		return
	}
	handlerID, cancel := t.handlerID, t.cancel
	t.client, t.cancel = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	client.RemoveEventHandler(handlerID)
}

func (t *WhatsmeowTransport) owns(client *whatsmeow.Client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client == client
}

// waitForQR forwards rotating pairing codes until the channel closes.
func (t *WhatsmeowTransport) waitForQR(qrChan <-chan whatsmeow.QRChannelItem, sink EventSink) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			sink(TransportEvent{Kind: EventPairingCode, Code: item.Code})
		case "success":
			// events.Connected follows
			return
		case "timeout":
			sink(TransportEvent{Kind: EventClosed, Close: CloseReason{Detail: "pairing timed out"}})
			return
		default:
			detail := item.Event
			if item.Error != nil {
				detail = item.Error.Error()
			}
			sink(TransportEvent{Kind: EventClosed, Close: CloseReason{Detail: detail}})
			return
		}
	}
}

func (t *WhatsmeowTransport) dispatch(client *whatsmeow.Client, evt interface{}, sink EventSink) {
	switch e := evt.(type) {
	case *events.Connected:
		identity := &DeviceIdentity{Name: client.Store.PushName}
		if client.Store.ID != nil {
			identity.Phone = client.Store.ID.User
		}
		sink(TransportEvent{Kind: EventOpened, Identity: identity})
	case *events.LoggedOut:
		sink(TransportEvent{Kind: EventClosed, Close: CloseReason{LoggedOut: true, Detail: e.Reason.String()}})
	case *events.Disconnected:
		sink(TransportEvent{Kind: EventClosed, Close: CloseReason{Detail: "disconnected"}})
	case *events.StreamReplaced:
		sink(TransportEvent{Kind: EventClosed, Close: CloseReason{Detail: "stream replaced"}})
	case *events.ConnectFailure:
		sink(TransportEvent{Kind: EventClosed, Close: CloseReason{Detail: e.Reason.String()}})
	case *events.TemporaryBan:
		sink(TransportEvent{Kind: EventClosed, Close: CloseReason{Detail: e.String()}})
	case *events.Message:
		if e.Info.IsFromMe {
			return
		}
		text := e.Message.GetConversation()
		if text == "" {
			text = e.Message.GetExtendedTextMessage().GetText()
		}
		if text == "" {
			return
		}
		sink(TransportEvent{Kind: EventMessage, Message: &InboundMessage{
			ID:        e.Info.ID,
			From:      e.Info.Sender.User,
			PushName:  e.Info.PushName,
			Text:      text,
			Timestamp: e.Info.Timestamp,
		}})
	}
}

func (t *WhatsmeowTransport) current() *whatsmeow.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

func (t *WhatsmeowTransport) Send(ctx context.Context, jid, text string) (string, error) {
	client := t.current()
	if client == nil || !client.IsConnected() {
		return "", ErrNotConnected
	}

	to, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", jid, err)
	}

	resp, err := client.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (t *WhatsmeowTransport) Exists(ctx context.Context, phone string) (NumberCheck, error) {
	client := t.current()
	if client == nil || !client.IsConnected() {
		return NumberCheck{}, ErrNotConnected
	}

	resp, err := client.IsOnWhatsApp([]string{"+" + phone})
	if err != nil {
		return NumberCheck{}, fmt.Errorf("existence query: %w", err)
	}
	for _, r := range resp {
		if r.IsIn {
			return NumberCheck{Exists: true, JID: r.JID.String()}, nil
		}
	}
	return NumberCheck{}, nil
}

func (t *WhatsmeowTransport) Logout(ctx context.Context) error {
	client := t.current()
	if client == nil {
		return nil
	}
	err := client.Logout(ctx)
	if errors.Is(err, whatsmeow.ErrNotLoggedIn) || errors.Is(err, whatsmeow.ErrNotConnected) {
		return nil
	}
	return err
}

func (t *WhatsmeowTransport) Close() {
	t.mu.Lock()
	client, handlerID, cancel := t.client, t.handlerID, t.cancel
	t.client, t.cancel = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.RemoveEventHandler(handlerID)
		client.Disconnect()
	}
}

// ClearCredentials deletes every stored device so the next Open starts pairing again.
func (t *WhatsmeowTransport) ClearCredentials(ctx context.Context) error {
	store, err := t.credentials(ctx)
	if err != nil {
		return err
	}
	devices, err := store.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	var errs []error
	for _, d := range devices {
		if d.ID == nil {
			continue
		}
		if err := store.DeleteDevice(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("delete device %s: %w", d.ID, err))
		}
	}
	return errors.Join(errs...)
}

// PairedDevice returns the JID of the stored device, or "" when none is paired.
func (t *WhatsmeowTransport) PairedDevice(ctx context.Context) (string, error) {
	store, err := t.credentials(ctx)
	if err != nil {
		return "", err
	}
	device, err := store.GetFirstDevice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get device store: %w", err)
	}
	if device.ID == nil {
		return "", nil
	}
	return device.ID.String(), nil
}
