package main

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-telegram/bot/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var defaultSpamWords = []string{
	"casino", "airdrop", "giveaway", "free money", "earn money", "investment",
	"forex", "betting", "porn", "xxx", "viagra", "loan",
}

var defaultExtraSpamWords = []string{
	"bitcoin", "profit", "promo", "discount", "click here", "dm me",
	"subscribe", "join now", "limited offer", "cash", "bonus", "winner",
}

// linkMarkers are substrings that mark a mention, a short link or a URL.
var linkMarkers = []string{
	"@", "t.me", "telegram.me", "bit.ly", "goo.gl", "tinyurl.com", "http", "www.",
}

// SpamFilter classifies message text against banned words and link markers.
type SpamFilter struct {
	base  []string
	extra []string
}

// NewSpamFilter lowercases the word lists. Nil lists fall back to the built-in ones.
func NewSpamFilter(words, extra []string) *SpamFilter {
	if words == nil {
		words = defaultSpamWords
	}
	if extra == nil {
		extra = defaultExtraSpamWords
	}
	return &SpamFilter{base: lowerAll(words), extra: lowerAll(extra)}
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Classify reports whether text is spam under mode. Words match as
// case-insensitive substrings, so a banned word inside a longer word matches too.
func (f *SpamFilter) Classify(text string, mode AntispamMode) bool {
	if mode != AntispamNormal && mode != AntispamAggressive {
		return false
	}

	lower := strings.ToLower(text)
	for _, marker := range linkMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if containsAny(lower, f.base) {
		return true
	}
	return mode == AntispamAggressive && containsAny(lower, f.extra)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// AntiSpam enforces the spam filter on group messages and serves its menu.
type AntiSpam struct {
	ui     *messenger
	store  ChatSettingsStore
	filter *SpamFilter
}

func NewAntiSpam(ui *messenger, store ChatSettingsStore, filter *SpamFilter) *AntiSpam {
	return &AntiSpam{ui: ui, store: store, filter: filter}
}

// Check deletes msg and posts a notice when it is spam under mode.
// It reports whether the message was removed.
func (a *AntiSpam) Check(ctx context.Context, msg *models.Message, mode AntispamMode) (bool, error) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if !a.filter.Classify(text, mode) {
		return false, nil
	}

	chatID := msg.Chat.ID
	if err := a.ui.delete(ctx, chatID, msg.ID); err != nil {
		return false, fmt.Errorf("failed to delete spam message %d in chat %d: %w", msg.ID, chatID, err)
	}

	notice := fmt.Sprintf("Spam message from %s was deleted.", mention(msg.From))
	if _, err := a.ui.send(ctx, chatID, notice, nil); err != nil {
		ErrorLogger.Printf("Failed to post spam notice in chat %d: %v", chatID, err)
	}
	InfoLogger.Printf("Spam message %d deleted in chat %d", msg.ID, chatID)
	return true, nil
}

func mention(user *models.User) string {
	if user == nil {
		return "a user"
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	if name == "" {
		name = fmt.Sprintf("user %d", user.ID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, user.ID, html.EscapeString(name))
}

// ShowMenu renders the mode selection of chatID into the menu message of ev.
func (a *AntiSpam) ShowMenu(ctx context.Context, ev callbackEvent, chatID int64) error {
	if err := a.renderMenu(ctx, ev, chatID); err != nil {
		return err
	}
	a.ui.answer(ctx, ev, "Anti-Spam menu opened", false)
	return nil
}

func (a *AntiSpam) renderMenu(ctx context.Context, ev callbackEvent, chatID int64) error {
	settings, err := a.store.Get(ctx, chatID)
	if err != nil {
		return err
	}

	caser := cases.Title(language.English)
	rows := make([][]models.InlineKeyboardButton, 0, len(antispamModes)+1)
	for _, mode := range antispamModes {
		mark := "⬜"
		if settings.AntispamMode == mode {
			mark = "✅"
		}
		label := fmt.Sprintf("%s: %s", caser.String(string(mode)), mark)
		rows = append(rows, row(button(label, callbackData("antispam", string(mode), chatID))))
	}
	rows = append(rows, row(button("🔙 Back", settingsData(chatID))))

	return a.ui.edit(ctx, ev, "🚨 <b>Anti-Spam Settings</b>\n\nChoose a mode for this chat:", keyboard(rows...))
}

// SetMode stores mode for chatID and re-renders the menu.
func (a *AntiSpam) SetMode(ctx context.Context, ev callbackEvent, chatID int64, mode AntispamMode) error {
	if err := a.store.Merge(ctx, chatID, NewSettingsUpdate().Set(PathAntispamMode, mode)); err != nil {
		return err
	}
	InfoLogger.Printf("Anti-spam mode set to %s for chat %d by user %d", mode, chatID, ev.UserID)

	if err := a.renderMenu(ctx, ev, chatID); err != nil {
		return err
	}
	a.ui.answer(ctx, ev, "Anti-Spam mode set to "+string(mode), false)
	return nil
}
