package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"availability-service/internal/slots"
)

// Notifier tells the host about booking changes. Implementations must not
// block the request that triggered them.
type Notifier interface {
	BookingCreated(ctx context.Context, b Booking, ev slots.Event)
	BookingCancelled(ctx context.Context, b Booking)
}

type NopNotifier struct{}

func (NopNotifier) BookingCreated(context.Context, Booking, slots.Event) {}
func (NopNotifier) BookingCancelled(context.Context, Booking)            {}

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramNotifier posts booking updates to one chat.
type TelegramNotifier struct {
	sender  messageSender
	chatID  int64
	timeout time.Duration
	log     *zap.Logger
}

func NewTelegramNotifier(token string, chatID int64, log *zap.Logger) (*TelegramNotifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newTelegramNotifier(b, chatID, log), nil
}

func newTelegramNotifier(sender messageSender, chatID int64, log *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID, timeout: 10 * time.Second, log: log}
}

// BookingCreated posts the event, guest and start time to the chat.
func (n *TelegramNotifier) BookingCreated(ctx context.Context, b Booking, ev slots.Event) {
	text := fmt.Sprintf("New booking: %s\n%s <%s>\n%s (%d min)",
		ev.Name, b.GuestName, b.GuestEmail, b.StartTime.Format(time.RFC1123), ev.DurationInMinutes)
	if b.GuestNotes != "" {
		text += "\nNotes: " + b.GuestNotes
	}
	n.send(ctx, b.ID, text)
}

// BookingCancelled posts the cancelled guest and start time to the chat.
func (n *TelegramNotifier) BookingCancelled(ctx context.Context, b Booking) {
	text := fmt.Sprintf("Booking cancelled: %s <%s>\n%s", b.GuestName, b.GuestEmail, b.StartTime.Format(time.RFC1123))
	n.send(ctx, b.ID, text)
}

// send outlives the request context so a fast response does not cut it short.
func (n *TelegramNotifier) send(ctx context.Context, bookingID, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	go func() {
		defer cancel()
		if _, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: n.chatID, Text: text}); err != nil {
			n.log.Warn("telegram notification failed", zap.String("booking_id", bookingID), zap.Error(err))
		}
	}()
}
