package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nano-banana-studio/internal/catalog"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/wizard"
)

const (
	callbackPrefix  = "nb"
	historyPageSize = 10
)

var stepTitles = map[wizard.Step]string{
	wizard.StepChooseMode:    "Choose a mode",
	wizard.StepEditOperation: "Choose an edit operation",
	wizard.StepUpload:        "Upload photos",
	wizard.StepTemplate:      "Pick a template (optional)",
	wizard.StepPrompt:        "Describe the image",
	wizard.StepResults:       "Generate",
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.Message.Chat == nil || q.From == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, callbackPrefix+":") {
		return nil
	}

	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return nil
	}

	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "This panel belongs to someone else.", true)
		return nil
	}

	action := parts[2]
	arg := ""
	if len(parts) > 3 {
		arg = parts[3]
	}
	chatID := q.Message.Chat.ID
	h.updatePanel(chatID, ownerID, func(p *panel) { p.messageID = q.Message.MessageID })

	sess := h.session(chatID, ownerID)
	st := sess.Snapshot()

	switch action {
	case "next":
		if wizard.CurrentStep(st) == wizard.StepResults {
			if st.Generating {
				_ = h.tg.AnswerCallback(q.ID, "⏳ Already generating…", false)
				return nil
			}
			_ = h.tg.AnswerCallback(q.ID, "🎨 Generating…", false)
			return h.generate(ctx, chatID, ownerID)
		}
		_, err = h.wiz.Advance(ctx, sess)
	case "back":
		_, err = h.wiz.Retreat(sess)
	case "skip":
		_, err = h.wiz.Skip(ctx, sess)
	case "reset":
		_, err = h.wiz.Reset(sess)
	case "mode":
		var mode catalog.Mode
		if mode, err = catalog.ParseMode(arg); err == nil {
			_, err = h.wiz.SelectMode(sess, mode)
		}
	case "op":
		var op catalog.EditOperation
		if op, err = catalog.ParseEditOperation(arg); err == nil {
			_, err = h.wiz.SelectEditOption(sess, op)
		}
	case "tpl":
		if arg == st.TemplateID {
			arg = ""
		}
		_, err = h.wiz.SelectTemplate(sess, arg)
	case "cat":
		h.updatePanel(chatID, ownerID, func(p *panel) { p.category = arg })
	case "frag":
		frag, ok := catalog.LookupFragment(arg)
		if !ok {
			err = fmt.Errorf("unknown fragment %q", arg)
			break
		}
		_, err = h.wiz.ToggleFragment(sess, frag.Value)
	case "rmimg":
		var idx int
		if idx, err = strconv.Atoi(arg); err == nil {
			_, err = h.wiz.RemoveImage(sess, idx)
		}
	case "hist":
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
		return h.showHistoryImage(chatID, ownerID, arg)
	case "history":
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
		return h.sendHistory(chatID, ownerID)
	default:
		_ = h.tg.AnswerCallback(q.ID, "Unknown action", false)
		return nil
	}

	if err != nil {
		_ = h.tg.AnswerCallback(q.ID, callbackError(err), false)
	} else {
		_ = h.tg.AnswerCallback(q.ID, "OK", false)
	}
	return h.renderPanel(chatID, ownerID, true)
}

func callbackError(err error) string {
	switch {
	case errors.Is(err, wizard.ErrCannotAdvance):
		return "Finish this step first."
	case errors.Is(err, wizard.ErrNotSkippable):
		return "This step cannot be skipped."
	default:
		return err.Error()
	}
}

func (h *Handler) showHistoryImage(chatID, userID int64, id string) error {
	sess := h.session(chatID, userID)
	st, err := h.wiz.SelectHistory(sess, id)
	if err != nil {
		return h.tg.SendText(chatID, "❌ That image is no longer available.")
	}
	img, _ := st.Current()
	if img.ImageData == "" {
		return h.tg.SendText(chatID, "❌ That entry has no image.")
	}
	return h.tg.SendPhoto(chatID, img.ImageData, resultCaption(img))
}

func (h *Handler) sendHistory(chatID, userID int64) error {
	st := h.session(chatID, userID).Snapshot()
	if len(st.History) == 0 {
		return h.tg.SendText(chatID, "🕘 No images yet. Use /start to create one.")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🕘 History (%d)\n\n", len(st.History)))

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, img := range st.History {
		if i >= historyPageSize {
			break
		}
		marker := ""
		if img.ID == st.CurrentID {
			marker = " ⭐"
		}
		age := humanize.RelTime(img.Timestamp, h.now(), "ago", "from now")
		b.WriteString(fmt.Sprintf("%d) %s · %s%s\n", i+1, truncateLine(img.Prompt, 60), age, marker))

		row = append(row, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(i+1), cb(userID, "hist", img.ID)))
		if len(row) == 5 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	_, err := h.tg.SendTextWithKeyboard(chatID, strings.TrimSpace(b.String()), tgbotapi.NewInlineKeyboardMarkup(rows...))
	return err
}

func panelText(st session.State, p panel) string {
	view := wizard.Describe(st)

	var b strings.Builder
	b.WriteString("🍌 Nano Banana Studio\n\n")
	b.WriteString(fmt.Sprintf("Step %d/%d: %s\n", view.StepIndex+1, len(view.Steps), stepTitles[view.Step]))

	if st.Mode != catalog.ModeNone {
		b.WriteString("Mode: " + string(st.Mode) + "\n")
	}
	if op, ok := catalog.LookupOperation(st.EditOption); ok {
		b.WriteString("Edit: " + op.Label + "\n")
	}
	if len(st.UploadedImages) > 0 {
		b.WriteString(fmt.Sprintf("Photos: %d\n", len(st.UploadedImages)))
	}
	if tpl, ok := catalog.LookupTemplate(st.TemplateID); ok {
		b.WriteString("Template: " + tpl.Icon + " " + tpl.Name + "\n")
	}
	if len(st.SelectedFragments) > 0 {
		b.WriteString("Keywords: " + truncateLine(strings.Join(st.SelectedFragments, ", "), 200) + "\n")
	}
	if strings.TrimSpace(st.FreeText) != "" {
		b.WriteString("Text: " + truncateLine(st.FreeText, 200) + "\n")
	}
	if view.Prompt != "" && view.Step != wizard.StepChooseMode {
		b.WriteString("\nPrompt: " + truncateLine(view.Prompt, 500) + "\n")
	}

	switch {
	case st.Generating:
		b.WriteString("\n⏳ Generating…\n")
	case st.LastError != "":
		b.WriteString("\n❌ " + st.LastError + "\n")
	}

	switch view.Step {
	case wizard.StepChooseMode:
		b.WriteString("\n🎨 Create makes a new image from text. ✏️ Edit changes your photos.\n")
	case wizard.StepEditOperation:
		if op, ok := catalog.LookupOperation(st.EditOption); ok {
			b.WriteString("\n" + op.Description + "\nExample: " + op.Example + "\n")
		}
	case wizard.StepUpload:
		b.WriteString("\n📷 Send one or more photos. A caption becomes the prompt text.\n")
	case wizard.StepPrompt:
		if p.category != "" {
			b.WriteString("\nTap keywords to toggle them.\n")
		} else {
			b.WriteString("\n✍️ Send a message to set the prompt text, or open a keyword category.\n")
		}
	case wizard.StepResults:
		if cur, ok := st.Current(); ok {
			b.WriteString("\nLast image: " + truncateLine(cur.Description, 120) + "\n")
		}
	}

	return strings.TrimSpace(b.String())
}

func panelKeyboard(ownerID int64, st session.State, p panel) tgbotapi.InlineKeyboardMarkup {
	view := wizard.Describe(st)

	var rows [][]tgbotapi.InlineKeyboardButton
	switch view.Step {
	case wizard.StepChooseMode:
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🎨 Create", cb(ownerID, "mode", string(catalog.ModeCreate))),
			tgbotapi.NewInlineKeyboardButtonData("✏️ Edit", cb(ownerID, "mode", string(catalog.ModeEdit))),
		})
		if len(st.History) > 0 {
			rows = append(rows, []tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🕘 History (%d)", len(st.History)), cb(ownerID, "history")),
			})
		}
	case wizard.StepEditOperation:
		var buttons []tgbotapi.InlineKeyboardButton
		for _, op := range catalog.EditOperations() {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(checked(op.Label, op.ID == st.EditOption), cb(ownerID, "op", string(op.ID))))
		}
		rows = append(rows, chunk(buttons, 2)...)
	case wizard.StepUpload:
		var buttons []tgbotapi.InlineKeyboardButton
		for i := range st.UploadedImages {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🗑 %d", i+1), cb(ownerID, "rmimg", strconv.Itoa(i))))
		}
		rows = append(rows, chunk(buttons, 5)...)
	case wizard.StepTemplate:
		var buttons []tgbotapi.InlineKeyboardButton
		for _, tpl := range catalog.Templates() {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(checked(tpl.Icon+" "+tpl.Name, tpl.ID == st.TemplateID), cb(ownerID, "tpl", tpl.ID)))
		}
		rows = append(rows, chunk(buttons, 2)...)
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("⏭ Skip", cb(ownerID, "skip")),
		})
	case wizard.StepPrompt:
		rows = append(rows, promptRows(ownerID, st, p)...)
	case wizard.StepResults:
		label := "🎨 Generate"
		if len(st.History) > 0 {
			label = "🔁 Generate again"
		}
		if st.Generating {
			label = "⏳ Generating…"
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "next")),
		})
		if len(st.History) > 0 {
			rows = append(rows, []tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🕘 History (%d)", len(st.History)), cb(ownerID, "history")),
			})
		}
	}

	var nav []tgbotapi.InlineKeyboardButton
	if view.CanRetreat {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(ownerID, "back")))
	}
	if view.CanAdvance {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Next ➡", cb(ownerID, "next")))
	}
	if view.Step != wizard.StepChooseMode {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("♻ Reset", cb(ownerID, "reset")))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func promptRows(ownerID int64, st session.State, p panel) [][]tgbotapi.InlineKeyboardButton {
	if p.category == "" {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, c := range catalog.Categories() {
			n := 0
			for _, f := range c.Buttons {
				if st.HasFragment(f.Value) {
					n++
				}
			}
			label := c.Icon + " " + c.Label
			if n > 0 {
				label += fmt.Sprintf(" (%d)", n)
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "cat", c.ID)))
		}
		return chunk(buttons, 2)
	}

	var buttons []tgbotapi.InlineKeyboardButton
	for _, c := range catalog.Categories() {
		if c.ID != p.category {
			continue
		}
		for _, f := range c.Buttons {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(checked(f.Label, st.HasFragment(f.Value)), cb(ownerID, "frag", f.ID)))
		}
	}
	rows := chunk(buttons, 2)
	return append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅ Categories", cb(ownerID, "cat")),
	})
}

func chunk(buttons []tgbotapi.InlineKeyboardButton, size int) [][]tgbotapi.InlineKeyboardButton {
	var rows [][]tgbotapi.InlineKeyboardButton
	for len(buttons) > 0 {
		n := min(size, len(buttons))
		rows = append(rows, buttons[:n])
		buttons = buttons[n:]
	}
	return rows
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}

func checked(label string, on bool) string {
	if on {
		return "✅ " + label
	}
	return label
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
