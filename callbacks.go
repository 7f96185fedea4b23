package main

import (
	"context"
	"regexp"
	"strconv"

	"github.com/go-telegram/bot/models"
)

var (
	featureCallback  = regexp.MustCompile(`^(antispam|autodelete|autorequest)_([a-z0-9]+)_(-?\d+)$`)
	settingsCallback = regexp.MustCompile(`^settings_(-?\d+)$`)
)

// callbackRoute is a parsed "<feature>_<action>_<chat>" payload.
type callbackRoute struct {
	Feature string
	Action  string
	ChatID  int64
}

func parseCallback(data string) (callbackRoute, bool) {
	m := featureCallback.FindStringSubmatch(data)
	if m == nil {
		return callbackRoute{}, false
	}
	chatID, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return callbackRoute{}, false
	}
	return callbackRoute{Feature: m[1], Action: m[2], ChatID: chatID}, true
}

func parseSettingsCallback(data string) (int64, bool) {
	m := settingsCallback.FindStringSubmatch(data)
	if m == nil {
		return 0, false
	}
	chatID, err := strconv.ParseInt(m[1], 10, 64)
	return chatID, err == nil
}

func settingsData(chatID int64) string {
	return "settings_" + strconv.FormatInt(chatID, 10)
}

// handleCallback dispatches a button press. Handlers answer the query themselves;
// a returned error is answered here.
func (b *Bot) handleCallback(ctx context.Context, query *models.CallbackQuery) {
	ev := newCallbackEvent(query)
	InfoLogger.Printf("[%s] Callback %q from user %d", b.config.ID, ev.Data, ev.UserID)

	var err error
	switch ev.Data {
	case "start":
		err = b.showStartMenu(ctx, ev)
	case "help":
		err = b.showChatList(ctx, ev)
	case "about":
		err = b.showAbout(ctx, ev)
	default:
		if chatID, ok := parseSettingsCallback(ev.Data); ok {
			err = b.showChatSettings(ctx, ev, chatID)
			break
		}
		route, ok := parseCallback(ev.Data)
		if !ok {
			WarnLogger.Printf("[%s] Unhandled callback %q from user %d", b.config.ID, ev.Data, ev.UserID)
			b.ui.answer(ctx, ev, "Unknown action", true)
			return
		}
		err = b.dispatchFeature(ctx, ev, route)
	}

	if err != nil {
		ErrorLogger.Printf("[%s] Error handling callback %q from user %d: %v", b.config.ID, ev.Data, ev.UserID, err)
		b.ui.answer(ctx, ev, "Error processing request", true)
	}
}

func (b *Bot) dispatchFeature(ctx context.Context, ev callbackEvent, route callbackRoute) error {
	chatID, action := route.ChatID, route.Action

	// cancel only touches the caller's own dialog
	if action != "cancel" {
		allowed, err := b.canConfigure(ctx, chatID, ev.UserID)
		if err != nil {
			return err
		}
		if !allowed {
			WarnLogger.Printf("[%s] User %d is not allowed to configure chat %d", b.config.ID, ev.UserID, chatID)
			b.ui.answer(ctx, ev, "You are not an admin in this chat.", true)
			return nil
		}
	}

	switch route.Feature {
	case "antispam":
		if action == "menu" {
			return b.antiSpam.ShowMenu(ctx, ev, chatID)
		}
		if mode := AntispamMode(action); mode.Valid() {
			return b.antiSpam.SetMode(ctx, ev, chatID, mode)
		}
	case "autodelete":
		switch action {
		case "menu":
			return b.autoDelete.ShowMenu(ctx, ev, chatID)
		case "toggle":
			return b.autoDelete.Toggle(ctx, ev, chatID)
		case "cancel":
			return b.autoDelete.Cancel(ctx, ev, chatID)
		}
		if kind := MessageKind(action); kind.valid() || kind == AllMessageKinds {
			return b.autoDelete.PromptTime(ctx, ev, chatID, kind)
		}
	case "autorequest":
		switch action {
		case "menu":
			return b.autoRequest.ShowMenu(ctx, ev, chatID)
		case "custom":
			return b.autoRequest.PromptCustom(ctx, ev, chatID)
		case "welcome":
			return b.autoRequest.PromptWelcome(ctx, ev, chatID)
		case "cancel":
			return b.autoRequest.Cancel(ctx, ev, chatID)
		}
		if delay, ok := delayPresets[action]; ok {
			return b.autoRequest.SetDelay(ctx, ev, chatID, delay)
		}
	}

	WarnLogger.Printf("[%s] Unhandled callback %q from user %d", b.config.ID, ev.Data, ev.UserID)
	b.ui.answer(ctx, ev, "Unknown action", true)
	return nil
}
