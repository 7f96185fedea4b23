package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"
)

const (
	pendingActionBusy = "Please complete or cancel the pending action first."
	autoDeleteHint    = "(e.g., 5s for 5 seconds, 1m for 1 minute, 4h for 4 hours, 0 to disable)"
)

// AutoDelete schedules deletion of group messages and runs the timer dialogs.
type AutoDelete struct {
	ui      *messenger
	store   ChatSettingsStore
	pending *PendingTracker
	clock   Clock
	jobs    *sync.WaitGroup
}

func NewAutoDelete(ui *messenger, store ChatSettingsStore, pending *PendingTracker, clock Clock, jobs *sync.WaitGroup) *AutoDelete {
	return &AutoDelete{ui: ui, store: store, pending: pending, clock: clock, jobs: jobs}
}

// messageKindOf returns the auto-delete category of msg, or "" when it has none.
func messageKindOf(msg *models.Message) MessageKind {
	switch {
	case msg.Text != "":
		return KindText
	case len(msg.Photo) > 0:
		return KindPhoto
	case msg.Video != nil:
		return KindVideo
	case msg.Animation != nil:
		return KindGIF
	}
	return ""
}

// Schedule starts a background deletion of msg when settings have a timer for its kind.
// A scheduled deletion is not affected by later setting changes and only stops on shutdown.
func (d *AutoDelete) Schedule(ctx context.Context, msg *models.Message, settings ChatSettings) bool {
	kind := messageKindOf(msg)
	if kind == "" {
		return false
	}
	seconds := settings.AutoDelete[kind]
	if seconds <= 0 {
		return false
	}

	chatID, messageID := msg.Chat.ID, msg.ID
	InfoLogger.Printf("Scheduling deletion of %s message %d in chat %d after %ds", kind, messageID, chatID, seconds)
	d.jobs.Go(func() {
		if err := d.clock.Sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
			return
		}
		if err := d.ui.delete(ctx, chatID, messageID); err != nil {
			ErrorLogger.Printf("Failed to delete %s message %d in chat %d: %v", kind, messageID, chatID, err)
			return
		}
		InfoLogger.Printf("Deleted %s message %d in chat %d", kind, messageID, chatID)
	})
	return true
}

// ShowMenu renders the timer table of chatID.
func (d *AutoDelete) ShowMenu(ctx context.Context, ev callbackEvent, chatID int64) error {
	if _, busy := d.pending.Peek(ev.UserID); busy {
		d.ui.answer(ctx, ev, pendingActionBusy, true)
		return nil
	}

	settings, err := d.store.Get(ctx, chatID)
	if err != nil {
		return err
	}

	toggle := button("✅ Enable Auto-Delete", callbackData("autodelete", "toggle", chatID))
	if settings.AutoDeleteEnabled() {
		toggle = button("❌ Disable Auto-Delete", callbackData("autodelete", "toggle", chatID))
	}
	markup := keyboard(
		row(button("Text: "+formatDuration(settings.AutoDelete[KindText]), callbackData("autodelete", string(KindText), chatID))),
		row(button("Photo: "+formatDuration(settings.AutoDelete[KindPhoto]), callbackData("autodelete", string(KindPhoto), chatID))),
		row(button("Video: "+formatDuration(settings.AutoDelete[KindVideo]), callbackData("autodelete", string(KindVideo), chatID))),
		row(button("GIF: "+formatDuration(settings.AutoDelete[KindGIF]), callbackData("autodelete", string(KindGIF), chatID))),
		row(button("Delete All", callbackData("autodelete", string(AllMessageKinds), chatID))),
		row(toggle),
		row(button("🔙 Back", settingsData(chatID))),
	)

	if err := d.ui.edit(ctx, ev, fmt.Sprintf("Configure auto-delete settings for chat %d:", chatID), markup); err != nil {
		return err
	}
	d.ui.answer(ctx, ev, "Auto-delete menu opened", false)
	return nil
}

// PromptTime asks the user for the timer of target, a message kind or AllMessageKinds.
func (d *AutoDelete) PromptTime(ctx context.Context, ev callbackEvent, chatID int64, target MessageKind) error {
	action := PendingAction{ChatID: chatID, Kind: PendingAutoDeleteTime, Target: target}
	if !d.pending.TryAcquire(ev.UserID, action) {
		d.ui.answer(ctx, ev, pendingActionBusy, true)
		return nil
	}

	if err := d.ui.edit(ctx, ev, timePrompt(target), d.cancelMarkup(chatID)); err != nil {
		d.pending.Release(ev.UserID)
		return err
	}
	d.ui.answer(ctx, ev, "Enter time for "+targetLabel(target), false)
	InfoLogger.Printf("Prompted user %d for auto-delete time of %s in chat %d", ev.UserID, target, chatID)
	return nil
}

func timePrompt(target MessageKind) string {
	if target == AllMessageKinds {
		return "Please enter the auto-delete time for all message types (text, photo, video, GIF) " + autoDeleteHint + ":"
	}
	return fmt.Sprintf("Please enter the auto-delete time for %s messages %s:", target, autoDeleteHint)
}

func targetLabel(target MessageKind) string {
	if target == AllMessageKinds {
		return "all message types"
	}
	return string(target)
}

// Toggle turns every timer off when any is set, otherwise prompts for a common timer.
func (d *AutoDelete) Toggle(ctx context.Context, ev callbackEvent, chatID int64) error {
	if _, busy := d.pending.Peek(ev.UserID); busy {
		d.ui.answer(ctx, ev, pendingActionBusy, true)
		return nil
	}

	settings, err := d.store.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !settings.AutoDeleteEnabled() {
		return d.PromptTime(ctx, ev, chatID, AllMessageKinds)
	}

	if err := d.store.Merge(ctx, chatID, allKindsUpdate(0)); err != nil {
		return err
	}
	InfoLogger.Printf("Auto-delete turned off for chat %d by user %d", chatID, ev.UserID)

	text := fmt.Sprintf("Auto-delete turned off for all message types in chat %d.", chatID)
	if err := d.ui.edit(ctx, ev, text, backButton(callbackData("autodelete", "menu", chatID))); err != nil {
		return err
	}
	d.ui.answer(ctx, ev, "Auto-delete turned off", false)
	return nil
}

// allKindsUpdate sets every message kind to seconds in one update.
func allKindsUpdate(seconds int) *SettingsUpdate {
	update := NewSettingsUpdate()
	for _, kind := range messageKinds {
		update.Set(autoDeletePath(kind), seconds)
	}
	return update
}

// Cancel closes the open auto-delete dialog of the user.
func (d *AutoDelete) Cancel(ctx context.Context, ev callbackEvent, chatID int64) error {
	if !d.pending.ReleaseKinds(ev.UserID, PendingAutoDeleteTime) {
		d.ui.answer(ctx, ev, "No pending action to cancel.", true)
		return nil
	}
	InfoLogger.Printf("Canceled auto-delete dialog of user %d for chat %d", ev.UserID, chatID)

	err := d.ui.edit(ctx, ev, "Action canceled. Returning to auto-delete menu.",
		backButton(callbackData("autodelete", "menu", chatID)))
	if err != nil {
		return err
	}
	d.ui.answer(ctx, ev, "Action canceled", false)
	return nil
}

// ProcessTime resolves an auto-delete dialog with the text of msg.
// Invalid input keeps the dialog open and asks again.
func (d *AutoDelete) ProcessTime(ctx context.Context, msg *models.Message, action PendingAction) error {
	userID, chatID := msg.From.ID, action.ChatID

	seconds, err := ParseDuration(msg.Text)
	if err != nil {
		WarnLogger.Printf("Invalid auto-delete time from user %d for chat %d: %q", userID, chatID, msg.Text)
		return d.ui.reply(ctx, msg, "Invalid input. Please enter a non-negative time "+autoDeleteHint+".",
			d.cancelMarkup(chatID))
	}

	update := NewSettingsUpdate().Set(autoDeletePath(action.Target), seconds)
	if action.Target == AllMessageKinds {
		update = allKindsUpdate(seconds)
	}
	if err := d.store.Merge(ctx, chatID, update); err != nil {
		if replyErr := d.ui.reply(ctx, msg, "Error setting auto-delete time.", d.cancelMarkup(chatID)); replyErr != nil {
			ErrorLogger.Printf("Failed to report store error to user %d: %v", userID, replyErr)
		}
		return err
	}
	d.pending.Release(userID)

	InfoLogger.Printf("Auto-delete time for %s set to %ds in chat %d by user %d", targetLabel(action.Target), seconds, chatID, userID)
	text := fmt.Sprintf("Auto-delete time for %s set to %s in chat %d.", targetLabel(action.Target), formatDuration(seconds), chatID)
	return d.ui.reply(ctx, msg, text, backButton(callbackData("autodelete", "menu", chatID)))
}

func (d *AutoDelete) cancelMarkup(chatID int64) *models.InlineKeyboardMarkup {
	return keyboard(row(button("Cancel", callbackData("autodelete", "cancel", chatID))))
}
