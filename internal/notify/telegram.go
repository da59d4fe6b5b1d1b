package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Destinations that will never accept a message. Matched against the
// Bot API error description.
var permanentMarkers = []string{
	"chat not found",
	"bot was blocked",
	"bot was kicked",
	"user is deactivated",
	"chat_id is empty",
	"not enough rights",
}

// Media failures worth retrying as a plain text message.
var photoMarkers = []string{
	"wrong file identifier",
	"failed to get http url content",
	"wrong type of the web page content",
	"photo_invalid_dimensions",
}

// Telegram delivers messages through the Bot API. Forum-topic routing
// uses the thread id as reply target, since a topic's id is the id of
// its root message.
type Telegram struct {
	api *tgbotapi.BotAPI
	log *slog.Logger
}

func NewTelegram(token string, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Info("telegram bot authorized", "username", api.Self.UserName)
	return &Telegram{api: api, log: log}, nil
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &TransientError{Err: err}
	}

	if msg.ImageURL != "" {
		err := t.sendPhoto(msg)
		if err == nil {
			return nil
		}
		if !isPhotoFailure(err) {
			return classify(err)
		}
		t.log.Warn("photo rejected, falling back to text",
			"chat_id", msg.ChatID, "error", err)
	}
	return classify(t.sendText(msg))
}

func (t *Telegram) sendPhoto(msg Message) error {
	photo := tgbotapi.NewPhoto(msg.ChatID, tgbotapi.FileURL(msg.ImageURL))
	photo.Caption = msg.Text
	photo.ParseMode = tgbotapi.ModeHTML
	photo.ReplyToMessageID = int(msg.ThreadID)
	_, err := t.api.Send(photo)
	return err
}

func (t *Telegram) sendText(msg Message) error {
	m := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	m.ParseMode = tgbotapi.ModeHTML
	m.DisableWebPagePreview = true
	m.ReplyToMessageID = int(msg.ThreadID)
	_, err := t.api.Send(m)
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Message)
		for _, marker := range permanentMarkers {
			if strings.Contains(desc, marker) {
				return &PermanentError{Reason: apiErr.Message}
			}
		}
		if apiErr.RetryAfter > 0 {
			return &TransientError{
				RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
				Err:        err,
			}
		}
	}
	return &TransientError{Err: err}
}

func isPhotoFailure(err error) bool {
	desc := strings.ToLower(err.Error())
	for _, marker := range photoMarkers {
		if strings.Contains(desc, marker) {
			return true
		}
	}
	return false
}
