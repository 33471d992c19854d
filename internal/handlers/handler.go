package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"nano-banana-studio/internal/mediagroup"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/telegram"
	"nano-banana-studio/internal/wizard"
)

// Messenger is the part of the Telegram client the handler needs.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID string, text string, alert bool) error
	SendPhoto(chatID int64, image string, caption string) error
	DownloadFileDataURL(ctx context.Context, fileID string) (string, error)
}

type Options struct {
	Telegram Messenger
	Wizard   *wizard.Controller
	Sessions *session.Store
	Logger   *slog.Logger
	Now      func() time.Time
}

type Handler struct {
	tg         Messenger
	wiz        *wizard.Controller
	sessions   *session.Store
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
	now        func() time.Time

	mu     sync.Mutex
	panels map[string]*panel
}

// panel is the per-chat UI state that is not part of the wizard: which
// message carries the keyboard and which fragment category is open.
type panel struct {
	messageID int
	category  string
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Handler{
		tg:       opts.Telegram,
		wiz:      opts.Wizard,
		sessions: opts.Sessions,
		logger:   logger,
		now:      now,
		panels:   make(map[string]*panel),
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func sessionKey(chatID, userID int64) string {
	return fmt.Sprintf("tg:%d:%d", chatID, userID)
}

func (h *Handler) session(chatID, userID int64) *session.Session {
	return h.sessions.GetOrCreate(sessionKey(chatID, userID))
}

func (h *Handler) panel(chatID, userID int64) panel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.panels[sessionKey(chatID, userID)]; ok {
		return *p
	}
	return panel{}
}

func (h *Handler) updatePanel(chatID, userID int64, fn func(*panel)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := sessionKey(chatID, userID)
	p, ok := h.panels[key]
	if !ok {
		p = &panel{}
		h.panels[key] = p
	}
	fn(p)
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if msg.IsCommand() {
		return h.handleCommand(chatID, userID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, userID, msg)
	}

	if msg.Text != "" {
		return h.handleText(chatID, userID, msg.Text)
	}

	return nil
}

func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.processPhotos(ctx, group.ChatID, group.UserID, group.Caption, group.FileIDs); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

const helpText = "🍌 Nano Banana Studio\n\n" +
	"Build an image prompt step by step with the buttons below, then generate it with Gemini.\n\n" +
	"Commands:\n" +
	"/start - Start over\n" +
	"/reset - Reset the wizard (history is kept)\n" +
	"/history - Images generated in this chat\n" +
	"/help - This message"

func (h *Handler) handleCommand(chatID int64, userID int64, msg *tgbotapi.Message) error {
	sess := h.session(chatID, userID)

	switch msg.Command() {
	case "start":
		if _, err := h.wiz.Reset(sess); err != nil {
			return err
		}
		h.updatePanel(chatID, userID, func(p *panel) { p.category = "" })
		if err := h.tg.SendText(chatID, helpText); err != nil {
			return err
		}
		return h.renderPanel(chatID, userID, false)
	case "help":
		return h.tg.SendText(chatID, helpText)
	case "reset":
		if _, err := h.wiz.Reset(sess); err != nil {
			return err
		}
		h.updatePanel(chatID, userID, func(p *panel) { p.category = "" })
		_ = h.tg.SendText(chatID, "✅ Wizard reset. Your history is kept.")
		return h.renderPanel(chatID, userID, false)
	case "history":
		return h.sendHistory(chatID, userID)
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handleText(chatID int64, userID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sess := h.session(chatID, userID)
	if wizard.CurrentStep(sess.Snapshot()) != wizard.StepPrompt {
		_ = h.tg.SendText(chatID, "✍️ Text is used on the prompt step. Use the buttons to get there.")
		return h.renderPanel(chatID, userID, false)
	}

	if _, err := h.wiz.SetFreeText(sess, text); err != nil {
		return err
	}
	return h.renderPanel(chatID, userID, false)
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, userID int64, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]
	fileID := photo.FileID

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       userID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       fileID,
		})
		return nil
	}

	return h.processPhotos(ctx, chatID, userID, msg.Caption, []string{fileID})
}

// processPhotos downloads photos in parallel and adds them as uploads. A
// caption becomes the free text.
func (h *Handler) processPhotos(ctx context.Context, chatID int64, userID int64, caption string, fileIDs []string) error {
	sess := h.session(chatID, userID)
	if wizard.CurrentStep(sess.Snapshot()) != wizard.StepUpload {
		return h.tg.SendText(chatID, "📷 Photos are accepted on the upload step. Choose ✏️ Edit and an edit operation first.")
	}

	h.tg.SendTyping(chatID)

	images := make([]string, len(fileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range fileIDs {
		eg.Go(func() error {
			data, err := h.tg.DownloadFileDataURL(egCtx, fileID)
			if err != nil {
				return err
			}
			images[i] = data
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "❌ Failed to download the photo. Please send it again.")
	}

	for _, img := range images {
		if _, err := h.wiz.AddImage(sess, img); err != nil {
			return err
		}
	}
	if caption = strings.TrimSpace(caption); caption != "" {
		if _, err := h.wiz.SetFreeText(sess, caption); err != nil {
			return err
		}
	}

	h.logger.Info("photos uploaded", "session", sess.ID, "count", len(images))
	return h.renderPanel(chatID, userID, false)
}

// generate runs the results-step generation and posts the outcome as a new
// message followed by a fresh panel.
func (h *Handler) generate(ctx context.Context, chatID int64, userID int64) error {
	sess := h.session(chatID, userID)

	h.tg.SendTyping(chatID)
	_ = h.tg.SendText(chatID, "🎨 Generating, please wait...")

	st, err := h.wiz.Advance(ctx, sess)
	switch {
	case errors.Is(err, wizard.ErrBusy):
		return h.tg.SendText(chatID, "⏳ A generation is already running.")
	case err != nil:
		_ = h.tg.SendText(chatID, "❌ "+err.Error())
		return h.renderPanel(chatID, userID, false)
	}

	if cur, ok := st.Current(); ok && cur.ImageData != "" {
		if err := h.tg.SendPhoto(chatID, cur.ImageData, resultCaption(cur)); err != nil {
			return err
		}
	}
	return h.renderPanel(chatID, userID, false)
}

func resultCaption(img session.GeneratedImage) string {
	caption := "✅ " + truncateLine(img.Description, 400)
	if img.Prompt != "" {
		caption += "\n\nPrompt: " + truncateLine(img.Prompt, 500)
	}
	return caption
}

func (h *Handler) renderPanel(chatID int64, userID int64, edit bool) error {
	st := h.session(chatID, userID).Snapshot()
	p := h.panel(chatID, userID)
	if wizard.CurrentStep(st) != wizard.StepPrompt {
		p.category = ""
	}

	text := panelText(st, p)
	kb := panelKeyboard(userID, st, p)

	if edit && p.messageID != 0 {
		if err := h.tg.EditTextWithKeyboard(chatID, p.messageID, text, kb); err == nil {
			return nil
		}
	}

	msgID, err := h.tg.SendTextWithKeyboard(chatID, text, kb)
	if err != nil {
		return err
	}
	h.updatePanel(chatID, userID, func(p *panel) { p.messageID = msgID })
	return nil
}
