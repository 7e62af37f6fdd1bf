package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/Brownie44l1/digit-api/internal/imaging"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/session"
)

const (
	msgStart = `Hi! I recognise handwritten digits.

Send me a photo of a single digit, light on dark works best.

Commands:
/last - show the last prediction
/reset - clear the last prediction
/help - help`

	msgHelp = `How to use:

1. Write one digit, ideally white on a black background
2. Send it as a photo or as an image file
3. I reply with the digit and my confidence

Commands:
/last - show the last prediction
/reset - clear the last prediction`

	msgSendPhoto       = "Please send a photo of a handwritten digit."
	msgUnknownCommand  = "Unknown command. Use /help."
	msgReset           = "Cleared."
	msgNothingYet      = "No prediction yet. Send a photo of a digit."
	msgTooLarge        = "That image is too large."
	msgProcessingError = "Could not read that image. Try another photo."
	msgClassifyError   = "Something went wrong while classifying. Please try again."
)

// maxDownload caps images fetched from Telegram.
const maxDownload = 20 << 20

var errTooLarge = errors.New("file too large")

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot answers chat messages with digit predictions.
type Bot struct {
	api        *tgbotapi.BotAPI
	send       sender
	download   func(ctx context.Context, fileID string) ([]byte, error)
	classifier *model.Classifier
	sessions   *session.MemoryStore
	log        zerolog.Logger
}

func NewBot(token string, classifier *model.Classifier, sessions *session.MemoryStore, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Info().Str("account", api.Self.UserName).Msg("authorized")

	b := &Bot{
		api:        api,
		send:       api,
		classifier: classifier,
		sessions:   sessions,
		log:        log,
	}
	b.download = b.downloadFile
	return b, nil
}

// Run processes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.sendMessage(update.Message.Chat.ID, b.reply(ctx, update.Message))
		}
	}
}

func sessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// reply handles one message and returns the text to answer with.
func (b *Bot) reply(ctx context.Context, msg *tgbotapi.Message) string {
	sess, err := b.sessions.GetOrCreate(sessionID(msg.Chat.ID))
	if err != nil {
		b.log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("get session")
		return msgClassifyError
	}

	if msg.IsCommand() {
		return b.command(msg, sess)
	}

	if fileID, ok := imageFileID(msg); ok {
		return b.classify(ctx, msg.Chat.ID, fileID, sess)
	}

	return msgSendPhoto
}

func (b *Bot) command(msg *tgbotapi.Message, sess *session.Session) string {
	switch msg.Command() {
	case "start":
		return msgStart
	case "help":
		return msgHelp
	case "reset":
		sess.Reset()
		return msgReset
	case "last":
		if last := sess.Last(); last != nil {
			return last.Display()
		}
		return msgNothingYet
	default:
		return msgUnknownCommand
	}
}

// imageFileID picks the largest photo size, or an image sent as a document.
func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, true
	}
	if d := msg.Document; d != nil && strings.HasPrefix(d.MimeType, "image/") {
		return d.FileID, true
	}
	return "", false
}

func (b *Bot) classify(ctx context.Context, chatID int64, fileID string, sess *session.Session) string {
	log := b.log.With().Int64("chat", chatID).Str("file", fileID).Logger()

	data, err := b.download(ctx, fileID)
	if err != nil {
		log.Warn().Err(err).Msg("download photo")
		if errors.Is(err, errTooLarge) {
			return msgTooLarge
		}
		return msgProcessingError
	}

	img, format, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		log.Warn().Err(err).Msg("decode photo")
		return msgProcessingError
	}

	result, err := b.classifier.Classify(ctx, img)
	if err != nil {
		log.Error().Err(err).Msg("classify photo")
		return msgClassifyError
	}
	sess.Show(result)

	log.Info().Str("format", format).Str("display", result.Display()).Msg("classified photo")
	return result.Display()
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.api.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxDownload {
		return nil, errTooLarge
	}
	return data, nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.send.Send(msg); err != nil {
		b.log.Error().Err(err).Int64("chat", chatID).Msg("send message")
	}
}
