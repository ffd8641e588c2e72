package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/jaliph/qrbridge/utils"
)

// ErrNotConnected is returned by Notify before pairing has completed
var ErrNotConnected = errors.New("whatsapp: not connected")

// Notifier sends failure alerts to an admin over WhatsApp
type Notifier struct {
	storePath string
	recipient types.JID
	logLevel  string
	logger    *slog.Logger

	client atomic.Pointer[whatsmeow.Client]
}

// NewNotifier creates a notifier that will message recipient, a phone number or full JID
func NewNotifier(storePath, recipient, logLevel string, logger *slog.Logger) (*Notifier, error) {
	jid, err := RecipientJID(recipient)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		storePath: storePath,
		recipient: jid,
		logLevel:  logLevel,
		logger:    utils.Or(logger),
	}, nil
}

// RecipientJID parses "+15551234567", "15551234567" or "15551234567@s.whatsapp.net"
func RecipientJID(recipient string) (types.JID, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return types.JID{}, errors.New("whatsapp: recipient is empty")
	}
	if strings.Contains(recipient, "@") {
		jid, err := types.ParseJID(recipient)
		if err != nil {
			return types.JID{}, fmt.Errorf("whatsapp: invalid recipient %q: %w", recipient, err)
		}
		return jid, nil
	}
	user := strings.TrimPrefix(recipient, "+")
	for _, r := range user {
		if r < '0' || r > '9' {
			return types.JID{}, fmt.Errorf("whatsapp: invalid recipient %q", recipient)
		}
	}
	return types.JID{User: user, Server: types.DefaultUserServer}, nil
}

// Connect opens the device store and connects, pairing with a terminal QR code
// the first time. It blocks until pairing finishes or ctx is done.
func (n *Notifier) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(n.storePath), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	dbLog := waLog.Stdout("Database", strings.ToUpper(n.logLevel), true)
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", n.storePath), dbLog)
	if err != nil {
		return fmt.Errorf("failed to create database container: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get first device from database: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Noop)
	if client.Store.ID != nil {
		// Already paired, just connect
		if err := client.Connect(); err != nil {
			return err
		}
		n.client.Store(client)
		n.logger.Info("WhatsApp notifier connected", "recipient", n.recipient.String())
		return nil
	}

	n.logger.Info("No WhatsApp session stored, scan the QR code to pair")
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pairing channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return err
	}
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.H, os.Stdout)
			n.writePairingCode(evt.Code)
		case "success":
			n.client.Store(client)
			n.logger.Info("WhatsApp notifier paired", "recipient", n.recipient.String())
			return nil
		default:
			n.logger.Info("Pairing event received", "event", evt.Event)
		}
	}
	client.Disconnect()
	return errors.New("whatsapp: pairing did not complete")
}

// writePairingCode keeps a copy of the pairing QR beside the store for headless setups
func (n *Notifier) writePairingCode(code string) {
	file := filepath.Join(filepath.Dir(n.storePath), "qrcode.txt")
	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		n.logger.Error("Failed to open QR code file", "error", err)
		return
	}
	defer f.Close()
	qrterminal.GenerateHalfBlock(code, qrterminal.H, f)
}

// Connected reports whether alerts can be sent
func (n *Notifier) Connected() bool {
	return n.client.Load() != nil
}

// Notify sends text to the configured recipient
func (n *Notifier) Notify(ctx context.Context, text string) error {
	client := n.client.Load()
	if client == nil {
		return ErrNotConnected
	}
	n.logger.Debug("Sending failure alert", "jid", n.recipient.String())
	resp, err := client.SendMessage(ctx, n.recipient, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", n.recipient, err)
	}
	n.logger.Debug("Alert sent", "id", resp.ID)
	return nil
}

// Disconnect closes the connection, if any
func (n *Notifier) Disconnect() {
	if client := n.client.Swap(nil); client != nil {
		client.Disconnect()
		n.logger.Info("WhatsApp client disconnected")
	}
}
