package main

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callbackUpdate(data string, from int64) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "query-1",
		From: models.User{ID: from},
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{ID: 77, Chat: models.Chat{ID: from, Type: "private"}},
		},
		Data: data,
	}}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want callbackRoute
		ok   bool
	}{
		{"antispam_normal_-1001", callbackRoute{"antispam", "normal", -1001}, true},
		{"autodelete_text_5", callbackRoute{"autodelete", "text", 5}, true},
		{"autorequest_5min_-100", callbackRoute{"autorequest", "5min", -100}, true},
		{"autodelete_cancel_-1", callbackRoute{"autodelete", "cancel", -1}, true},
		{"settings_-1001", callbackRoute{}, false},
		{"antispam_menu_abc", callbackRoute{}, false},
		{"unknown_menu_1", callbackRoute{}, false},
		{"antispam_Normal_1", callbackRoute{}, false},
		{"antispam_menu_99999999999999999999", callbackRoute{}, false},
		{"", callbackRoute{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, ok := parseCallback(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSettingsCallback(t *testing.T) {
	chatID, ok := parseSettingsCallback(settingsData(-1001))
	assert.True(t, ok)
	assert.Equal(t, int64(-1001), chatID)

	_, ok = parseSettingsCallback("settings_")
	assert.False(t, ok)
	_, ok = parseSettingsCallback("antispam_menu_1")
	assert.False(t, ok)
}

func TestHandleCallback_Unknown(t *testing.T) {
	b, _, rec, _ := newTestBot(t, BotConfig{})

	b.handleUpdate(context.Background(), nil, callbackUpdate("nonsense", 500))

	answer := rec.lastAnswer(t)
	assert.Equal(t, "query-1", answer.CallbackQueryID)
	assert.Equal(t, "Unknown action", answer.Text)
	assert.True(t, answer.ShowAlert)
}

func TestHandleCallback_UnknownFeatureAction(t *testing.T) {
	b, tg, rec, _ := newTestBot(t, BotConfig{})
	tg.GetChatMemberFunc = adminMember

	b.handleUpdate(context.Background(), nil, callbackUpdate("antispam_extreme_-1001", testAdminID))

	answer := rec.lastAnswer(t)
	assert.Equal(t, "Unknown action", answer.Text)
	assert.True(t, answer.ShowAlert)
}

func TestHandleCallback_About(t *testing.T) {
	b, _, rec, _ := newTestBot(t, BotConfig{})

	b.handleUpdate(context.Background(), nil, callbackUpdate("about", 500))

	edit := rec.lastEdit(t)
	assert.Equal(t, aboutText, edit.Text)
	assert.Equal(t, 77, edit.MessageID)
	assert.Equal(t, "About menu opened", rec.lastAnswer(t).Text)
}

func TestHandleCallback_NotAdmin(t *testing.T) {
	b, _, rec, _ := newTestBot(t, BotConfig{})

	b.handleUpdate(context.Background(), nil, callbackUpdate("antispam_menu_-1001", 500))

	answer := rec.lastAnswer(t)
	assert.Equal(t, "You are not an admin in this chat.", answer.Text)
	assert.True(t, answer.ShowAlert)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.edited)
}

func TestHandleCallback_LiveAdminAllowed(t *testing.T) {
	b, tg, rec, _ := newTestBot(t, BotConfig{})
	tg.GetChatMemberFunc = adminMember

	b.handleUpdate(context.Background(), nil, callbackUpdate("antispam_menu_-1001", 500))

	assert.Contains(t, rec.lastEdit(t).Text, "Anti-Spam Settings")
	assert.Equal(t, "Anti-Spam menu opened", rec.lastAnswer(t).Text)
}

func TestHandleCallback_SetAntispamMode(t *testing.T) {
	b, _, rec, _ := newTestBot(t, BotConfig{})
	ctx := context.Background()
	require.NoError(t, b.store.AddChat(ctx, testGroupID, "Test Group", []int64{testAdminID}, true))

	b.handleUpdate(ctx, nil, callbackUpdate("antispam_aggressive_-1001", testAdminID))

	settings, err := b.store.Get(ctx, testGroupID)
	require.NoError(t, err)
	assert.Equal(t, AntispamAggressive, settings.AntispamMode)

	answers := rec.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, "Anti-Spam mode set to aggressive", answers[0].Text)

	markup, ok := rec.lastEdit(t).ReplyMarkup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 4)
	assert.Equal(t, "Normal: ⬜", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "Aggressive: ✅", markup.InlineKeyboard[1][0].Text)
	assert.Equal(t, "Off: ⬜", markup.InlineKeyboard[2][0].Text)
	assert.Equal(t, "settings_-1001", markup.InlineKeyboard[3][0].CallbackData)
}

func TestHandleCallback_HandlerError(t *testing.T) {
	b, tg, rec, _ := newTestBot(t, BotConfig{})
	ctx := context.Background()
	require.NoError(t, b.store.AddChat(ctx, testGroupID, "Test Group", []int64{testAdminID}, true))
	tg.EditMessageTextFunc = func(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
		return nil, errors.New("telegram unavailable")
	}

	b.handleUpdate(ctx, nil, callbackUpdate("autorequest_menu_-1001", testAdminID))

	answers := rec.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, "Error processing request", answers[0].Text)
	assert.True(t, answers[0].ShowAlert)
}

func TestHandleCallback_NotModifiedIsNotAnError(t *testing.T) {
	b, tg, rec, _ := newTestBot(t, BotConfig{})
	tg.EditMessageTextFunc = func(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
		return nil, errors.New("bad request, Bad Request: message is not modified")
	}

	b.handleUpdate(context.Background(), nil, callbackUpdate("about", 500))
	assert.Equal(t, "About menu opened", rec.lastAnswer(t).Text)
}

func TestHandleCallback_CancelNeedsNoAdmin(t *testing.T) {
	b, tg, rec, _ := newTestBot(t, BotConfig{})
	checked := false
	tg.GetChatMemberFunc = func(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error) {
		checked = true
		return &models.ChatMember{Type: "member"}, nil
	}

	b.handleUpdate(context.Background(), nil, callbackUpdate("autodelete_cancel_-1001", 500))

	assert.False(t, checked)
	answer := rec.lastAnswer(t)
	assert.Equal(t, "No pending action to cancel.", answer.Text)
	assert.True(t, answer.ShowAlert)
}

func TestHandleCallback_ChatList(t *testing.T) {
	ctx := context.Background()

	t.Run("no chats", func(t *testing.T) {
		b, _, rec, _ := newTestBot(t, BotConfig{})
		b.handleUpdate(ctx, nil, callbackUpdate("help", testAdminID))
		assert.Equal(t, "You need to be an admin in a connected chat to configure settings.", rec.lastEdit(t).Text)
		assert.Equal(t, "No connected chats found", rec.lastAnswer(t).Text)
	})

	t.Run("single chat", func(t *testing.T) {
		b, _, rec, _ := newTestBot(t, BotConfig{})
		require.NoError(t, b.store.AddChat(ctx, testGroupID, "Test <Group>", []int64{testAdminID}, true))

		b.handleUpdate(ctx, nil, callbackUpdate("help", testAdminID))

		edit := rec.lastEdit(t)
		assert.Equal(t, "Select a setting to configure for chat Test &lt;Group&gt;:", edit.Text)
		markup, ok := edit.ReplyMarkup.(*models.InlineKeyboardMarkup)
		require.True(t, ok)
		require.Len(t, markup.InlineKeyboard, 4)
		assert.Equal(t, "autodelete_menu_-1001", markup.InlineKeyboard[1][0].CallbackData)
		assert.Equal(t, "start", markup.InlineKeyboard[3][0].CallbackData)
	})

	t.Run("several chats", func(t *testing.T) {
		b, _, rec, _ := newTestBot(t, BotConfig{})
		require.NoError(t, b.store.AddChat(ctx, testGroupID, "First", []int64{testAdminID}, true))
		require.NoError(t, b.store.AddChat(ctx, -2002, "", []int64{testAdminID}, true))

		b.handleUpdate(ctx, nil, callbackUpdate("help", testAdminID))

		edit := rec.lastEdit(t)
		assert.Equal(t, "Select a chat to configure its settings:", edit.Text)
		markup, ok := edit.ReplyMarkup.(*models.InlineKeyboardMarkup)
		require.True(t, ok)
		require.Len(t, markup.InlineKeyboard, 3)
		assert.Equal(t, "First", markup.InlineKeyboard[0][0].Text)
		assert.Equal(t, "Untitled Chat", markup.InlineKeyboard[1][0].Text)
		assert.Equal(t, "settings_-2002", markup.InlineKeyboard[1][0].CallbackData)
	})
}

func TestHandleCallback_ChatSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("not registered", func(t *testing.T) {
		b, _, rec, _ := newTestBot(t, BotConfig{})
		b.handleUpdate(ctx, nil, callbackUpdate("settings_-1001", testAdminID))

		assert.Equal(t, "Chat -1001 is not registered with the bot. Please re-add the bot to the chat.", rec.lastEdit(t).Text)
		answer := rec.lastAnswer(t)
		assert.Equal(t, "Chat not found", answer.Text)
		assert.True(t, answer.ShowAlert)
	})

	t.Run("verified", func(t *testing.T) {
		b, tg, rec, _ := newTestBot(t, BotConfig{})
		require.NoError(t, b.store.AddChat(ctx, testGroupID, "Old Title", []int64{testAdminID}, true))
		tg.GetChatMemberFunc = adminMember

		b.handleUpdate(ctx, nil, callbackUpdate("settings_-1001", testAdminID))

		assert.Equal(t, "Configure settings for Test Group:", rec.lastEdit(t).Text)
		assert.Equal(t, "Settings menu opened", rec.lastAnswer(t).Text)

		settings, err := b.store.Get(ctx, testGroupID)
		require.NoError(t, err)
		assert.Equal(t, "Test Group", settings.Title)
	})

	t.Run("user lost admin rights", func(t *testing.T) {
		b, tg, rec, _ := newTestBot(t, BotConfig{})
		require.NoError(t, b.store.AddChat(ctx, testGroupID, "Test Group", []int64{testAdminID}, true))
		tg.GetChatMemberFunc = func(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error) {
			if params.UserID == testBotUserID {
				return &models.ChatMember{Type: memberAdministrator}, nil
			}
			return &models.ChatMember{Type: "member"}, nil
		}

		b.handleUpdate(ctx, nil, callbackUpdate("settings_-1001", testAdminID))

		assert.Equal(t, "You are not an admin in this chat.", rec.lastEdit(t).Text)
		assert.Equal(t, "Access denied: Not an admin", rec.lastAnswer(t).Text)
	})

	t.Run("bot lost admin rights", func(t *testing.T) {
		b, tg, rec, _ := newTestBot(t, BotConfig{})
		require.NoError(t, b.store.AddChat(ctx, testGroupID, "Test Group", []int64{testAdminID}, true))
		tg.GetChatMemberFunc = func(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error) {
			if params.UserID == testBotUserID {
				return &models.ChatMember{Type: "member"}, nil
			}
			return &models.ChatMember{Type: memberOwner}, nil
		}

		b.handleUpdate(ctx, nil, callbackUpdate("settings_-1001", testAdminID))

		assert.Contains(t, rec.lastEdit(t).Text, "Bot is no longer an admin in chat Test Group (-1001)")
		assert.True(t, rec.lastAnswer(t).ShowAlert)
		assert.Equal(t, testAdminID, rec.lastSent(t).ChatID)

		settings, err := b.store.Get(ctx, testGroupID)
		require.NoError(t, err)
		assert.False(t, settings.BotAdminStatus)
	})

	t.Run("removed from chat", func(t *testing.T) {
		b, tg, rec, _ := newTestBot(t, BotConfig{})
		require.NoError(t, b.store.AddChat(ctx, testGroupID, "Test Group", []int64{testAdminID}, true))
		calls := 0
		tg.GetChatFunc = func(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
			calls++
			return nil, bot.ErrorForbidden
		}

		b.handleUpdate(ctx, nil, callbackUpdate("settings_-1001", testAdminID))

		assert.Equal(t, 1, calls, "forbidden is not retried")
		assert.Contains(t, rec.lastEdit(t).Text, "This chat is not accessible.")
		assert.Equal(t, "Chat is inaccessible", rec.lastAnswer(t).Text)
		assert.Contains(t, rec.lastSent(t).Text, "Bot was removed from chat Test Group (-1001)")

		settings, err := b.store.Get(ctx, testGroupID)
		require.NoError(t, err)
		assert.False(t, settings.BotAdminStatus)
	})

	t.Run("transient failure keeps stored status", func(t *testing.T) {
		b, tg, rec, _ := newTestBot(t, BotConfig{})
		require.NoError(t, b.store.AddChat(ctx, testGroupID, "Test Group", []int64{testAdminID}, true))
		calls := 0
		tg.GetChatFunc = func(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
			calls++
			return nil, errors.New("timeout")
		}

		b.handleUpdate(ctx, nil, callbackUpdate("settings_-1001", testAdminID))

		assert.Equal(t, verifyAttempts, calls)
		assert.Equal(t, "Configure settings for Test Group:", rec.lastEdit(t).Text)

		settings, err := b.store.Get(ctx, testGroupID)
		require.NoError(t, err)
		assert.True(t, settings.BotAdminStatus)
	})
}

func TestNewCallbackEvent(t *testing.T) {
	ev := newCallbackEvent(&models.CallbackQuery{
		ID:   "q",
		From: models.User{ID: 5},
		Message: models.MaybeInaccessibleMessage{
			InaccessibleMessage: &models.InaccessibleMessage{Chat: models.Chat{ID: 9}, MessageID: 3},
		},
		Data: "start",
	})
	assert.Equal(t, callbackEvent{QueryID: "q", UserID: 5, ChatID: 9, MessageID: 3, Data: "start"}, ev)

	ev = newCallbackEvent(&models.CallbackQuery{ID: "q", From: models.User{ID: 5}})
	assert.Equal(t, int64(5), ev.ChatID)
}
