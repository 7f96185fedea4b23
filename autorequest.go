package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	welcomePreviewLength = 50
	customDelayHint      = "(e.g., 5s for 5 seconds, 1m for 1 minute, 1h for 1 hour)"
)

// delayPresets maps the preset buttons to delays in seconds.
var delayPresets = map[string]int{
	"instant": 0,
	"5min":    300,
	"10min":   600,
	"manual":  ManualDelay,
}

// AutoRequest approves join requests after the configured delay and runs
// the delay and welcome message dialogs.
type AutoRequest struct {
	ui      *messenger
	store   ChatSettingsStore
	users   userRegistry
	pending *PendingTracker
	clock   Clock
}

func NewAutoRequest(ui *messenger, store ChatSettingsStore, users userRegistry, pending *PendingTracker, clock Clock) *AutoRequest {
	return &AutoRequest{ui: ui, store: store, users: users, pending: pending, clock: clock}
}

// HandleJoinRequest waits for the configured delay and approves req. The welcome
// message, user registration and audit append run after approval and fail independently.
func (a *AutoRequest) HandleJoinRequest(ctx context.Context, req *models.ChatJoinRequest) error {
	chatID, userID := req.Chat.ID, req.From.ID

	settings, err := a.store.Get(ctx, chatID)
	if err != nil {
		return err
	}
	delay := settings.AutoRequest.Delay
	if delay == ManualDelay {
		InfoLogger.Printf("Manual mode in chat %d, leaving join request of user %d pending", chatID, userID)
		return nil
	}

	if delay > 0 {
		InfoLogger.Printf("Delaying approval of user %d in chat %d by %ds", userID, chatID, delay)
		if err := a.clock.Sleep(ctx, time.Duration(delay)*time.Second); err != nil {
			return err
		}
	}

	err = approvalRetry.Do(ctx, a.clock, func(ctx context.Context) error {
		_, err := a.ui.tg.ApproveChatJoinRequest(ctx, &bot.ApproveChatJoinRequestParams{ChatID: chatID, UserID: userID})
		return err
	})
	switch {
	case errors.Is(err, bot.ErrorBadRequest):
		InfoLogger.Printf("Join request of user %d in chat %d is no longer pending: %v", userID, chatID, err)
		return nil
	case err != nil:
		ErrorLogger.Printf("Failed to approve user %d in chat %d: %v", userID, chatID, err)
		return nil
	}
	InfoLogger.Printf("Approved join request of user %d in chat %d", userID, chatID)

	if welcome := settings.AutoRequest.WelcomeMessage; welcome != nil && *welcome != "" {
		err := welcomeRetry.Do(ctx, a.clock, func(ctx context.Context) error {
			return a.ui.sendPlain(ctx, userID, *welcome)
		})
		if err != nil {
			WarnLogger.Printf("Welcome message to user %d for chat %d not delivered: %v", userID, chatID, err)
		}
	}

	a.registerSilently(ctx, req.From)

	if err := a.store.Merge(ctx, chatID, NewSettingsUpdate().AppendAcceptedUser(userID)); err != nil {
		return fmt.Errorf("failed to record accepted user %d: %w", userID, err)
	}
	return nil
}

// registerSilently records a first-time user without sending the start menu.
func (a *AutoRequest) registerSilently(ctx context.Context, user models.User) {
	exists, err := a.users.UserExists(ctx, user.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to check user %d: %v", user.ID, err)
		return
	}
	if exists {
		return
	}
	if err := a.users.AddUser(ctx, user.ID, user.Username); err != nil {
		ErrorLogger.Printf("Failed to register user %d: %v", user.ID, err)
		return
	}
	InfoLogger.Printf("Registered user %d silently", user.ID)
}

// ShowMenu renders the delay presets and welcome message of chatID.
func (a *AutoRequest) ShowMenu(ctx context.Context, ev callbackEvent, chatID int64) error {
	settings, err := a.store.Get(ctx, chatID)
	if err != nil {
		return err
	}
	delayText := formatDelay(settings.AutoRequest.Delay)

	markup := keyboard(
		row(button("Delay: "+delayText, callbackData("autorequest", "menu", chatID))),
		row(
			button("Instant (0s)", callbackData("autorequest", "instant", chatID)),
			button("5m", callbackData("autorequest", "5min", chatID)),
		),
		row(
			button("10m", callbackData("autorequest", "10min", chatID)),
			button("Manual", callbackData("autorequest", "manual", chatID)),
		),
		row(button("Custom Time", callbackData("autorequest", "custom", chatID))),
		row(button("Set Welcome", callbackData("autorequest", "welcome", chatID))),
		row(button("🔙 Back", settingsData(chatID))),
	)

	text := fmt.Sprintf("Configure auto-request settings for chat %d:\nCurrent delay: %s\nWelcome message: %s",
		chatID, delayText, html.EscapeString(welcomePreview(settings.AutoRequest.WelcomeMessage)))
	if err := a.ui.edit(ctx, ev, text, markup); err != nil {
		return err
	}
	a.ui.answer(ctx, ev, "Auto-request menu opened", false)
	return nil
}

func welcomePreview(welcome *string) string {
	if welcome == nil || *welcome == "" {
		return "Not set"
	}
	runes := []rune(*welcome)
	if len(runes) > welcomePreviewLength {
		return string(runes[:welcomePreviewLength]) + "..."
	}
	return *welcome
}

// SetDelay stores a preset delay for chatID.
func (a *AutoRequest) SetDelay(ctx context.Context, ev callbackEvent, chatID int64, delay int) error {
	if err := a.store.Merge(ctx, chatID, NewSettingsUpdate().Set(PathAutoRequestDelay, delay)); err != nil {
		return err
	}
	InfoLogger.Printf("Auto-request delay set to %d for chat %d by user %d", delay, chatID, ev.UserID)

	text := fmt.Sprintf("Auto-request delay set to %s for chat %d.", formatDelay(delay), chatID)
	if err := a.ui.edit(ctx, ev, text, a.backMarkup(chatID)); err != nil {
		return err
	}
	a.ui.answer(ctx, ev, "Delay updated", false)
	return nil
}

// PromptCustom asks the user for a custom delay.
func (a *AutoRequest) PromptCustom(ctx context.Context, ev callbackEvent, chatID int64) error {
	return a.prompt(ctx, ev, chatID, PendingAutoRequestDelay,
		"Please enter the custom delay "+customDelayHint+":", "Enter custom delay")
}

// PromptWelcome asks the user for the welcome message.
func (a *AutoRequest) PromptWelcome(ctx context.Context, ev callbackEvent, chatID int64) error {
	return a.prompt(ctx, ev, chatID, PendingAutoRequestWelcome,
		"Please enter the welcome message for new users (or send 'clear' to remove the message):", "Enter welcome message")
}

func (a *AutoRequest) prompt(ctx context.Context, ev callbackEvent, chatID int64, kind PendingKind, text, toast string) error {
	if !a.pending.TryAcquire(ev.UserID, PendingAction{ChatID: chatID, Kind: kind}) {
		a.ui.answer(ctx, ev, pendingActionBusy, true)
		return nil
	}
	if err := a.ui.edit(ctx, ev, text, a.cancelMarkup(chatID)); err != nil {
		a.pending.Release(ev.UserID)
		return err
	}
	a.ui.answer(ctx, ev, toast, false)
	InfoLogger.Printf("Prompted user %d for %s of chat %d", ev.UserID, kind, chatID)
	return nil
}

// Cancel closes an open auto-request dialog of the user.
func (a *AutoRequest) Cancel(ctx context.Context, ev callbackEvent, chatID int64) error {
	if !a.pending.ReleaseKinds(ev.UserID, PendingAutoRequestDelay, PendingAutoRequestWelcome) {
		a.ui.answer(ctx, ev, "No pending action to cancel.", true)
		return nil
	}
	InfoLogger.Printf("Canceled auto-request dialog of user %d for chat %d", ev.UserID, chatID)

	if err := a.ui.edit(ctx, ev, "Action canceled. Returning to auto-request menu.", a.backMarkup(chatID)); err != nil {
		return err
	}
	a.ui.answer(ctx, ev, "Action canceled", false)
	return nil
}

// ProcessCustom resolves the custom delay dialog with the text of msg.
func (a *AutoRequest) ProcessCustom(ctx context.Context, msg *models.Message, action PendingAction) error {
	userID, chatID := msg.From.ID, action.ChatID

	delay, err := ParseDuration(msg.Text)
	if err != nil {
		WarnLogger.Printf("Invalid custom delay from user %d for chat %d: %q", userID, chatID, msg.Text)
		return a.ui.reply(ctx, msg, "Invalid input. Please enter a non-negative time "+customDelayHint+".",
			a.cancelMarkup(chatID))
	}

	if err := a.store.Merge(ctx, chatID, NewSettingsUpdate().Set(PathAutoRequestDelay, delay)); err != nil {
		a.replyError(ctx, msg, "Error setting custom delay.")
		return err
	}
	a.pending.Release(userID)

	InfoLogger.Printf("Custom auto-request delay set to %ds for chat %d by user %d", delay, chatID, userID)
	text := fmt.Sprintf("Custom auto-request delay set to %s for chat %d.", formatDuration(delay), chatID)
	return a.ui.reply(ctx, msg, text, a.backMarkup(chatID))
}

// ProcessWelcome resolves the welcome message dialog. "clear" removes the message.
func (a *AutoRequest) ProcessWelcome(ctx context.Context, msg *models.Message, action PendingAction) error {
	userID, chatID := msg.From.ID, action.ChatID
	welcome := strings.TrimSpace(msg.Text)

	update := NewSettingsUpdate()
	response := fmt.Sprintf("Welcome message set for chat %d.", chatID)
	if strings.EqualFold(welcome, "clear") {
		update.Set(PathWelcomeMessage, nil)
		response = fmt.Sprintf("Welcome message cleared for chat %d.", chatID)
	} else {
		update.Set(PathWelcomeMessage, welcome)
	}

	if err := a.store.Merge(ctx, chatID, update); err != nil {
		a.replyError(ctx, msg, "Error setting welcome message.")
		return err
	}
	a.pending.Release(userID)

	InfoLogger.Printf("%s by user %d", response, userID)
	return a.ui.reply(ctx, msg, response, a.backMarkup(chatID))
}

func (a *AutoRequest) replyError(ctx context.Context, msg *models.Message, text string) {
	if err := a.ui.reply(ctx, msg, text, nil); err != nil {
		ErrorLogger.Printf("Failed to report error to user %d: %v", msg.From.ID, err)
	}
}

func (a *AutoRequest) cancelMarkup(chatID int64) *models.InlineKeyboardMarkup {
	return keyboard(row(button("Cancel", callbackData("autorequest", "cancel", chatID))))
}

func (a *AutoRequest) backMarkup(chatID int64) *models.InlineKeyboardMarkup {
	return backButton(callbackData("autorequest", "menu", chatID))
}
