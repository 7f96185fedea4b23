package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"gorm.io/gorm"
)

const (
	memberOwner         = "creator"
	memberAdministrator = "administrator"

	verifyAttempts = 3
)

type Bot struct {
	tgBot   TelegramClient
	db      *gorm.DB
	store   *SettingsStore
	pending *PendingTracker
	config  BotConfig
	clock   Clock
	botID   uint // Reference to BotModel.ID

	ui          *messenger
	antiSpam    *AntiSpam
	autoDelete  *AutoDelete
	autoRequest *AutoRequest
	dialogs     *DialogRouter

	jobs sync.WaitGroup // deferred deletions, approvals and broadcasts

	selfMu sync.Mutex
	self   *models.User

	verifyBackoff time.Duration
}

// bot.go
func NewBot(db *gorm.DB, config BotConfig, clock Clock, tgClient TelegramClient) (*Bot, error) {
	// Retrieve or create Bot entry in the database
	var botEntry BotModel
	err := db.Where("identifier = ?", config.ID).First(&botEntry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		botEntry = BotModel{Identifier: config.ID, Name: config.ID}
		if err := db.Create(&botEntry).Error; err != nil {
			return nil, fmt.Errorf("failed to create bot entry: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	store := NewSettingsStore(db, botEntry.ID)
	if config.OwnerTelegramID != 0 {
		if err := store.AddUser(context.Background(), config.OwnerTelegramID, ""); err != nil {
			return nil, fmt.Errorf("failed to register owner: %w", err)
		}
	}

	pending := NewPendingTracker(clock, config.pendingTimeout())
	ui := &messenger{
		tg:      tgClient,
		limiter: newOutboundLimiter(config.MessagesPerSecond, config.GroupMessagesPerMinute),
	}

	b := &Bot{
		tgBot:         tgClient,
		db:            db,
		store:         store,
		pending:       pending,
		config:        config,
		clock:         clock,
		botID:         botEntry.ID,
		ui:            ui,
		verifyBackoff: time.Second,
	}

	b.antiSpam = NewAntiSpam(ui, store, NewSpamFilter(config.SpamWords, config.ExtraSpamWords))
	b.autoDelete = NewAutoDelete(ui, store, pending, clock, &b.jobs)
	b.autoRequest = NewAutoRequest(ui, store, store, pending, clock)

	b.dialogs = NewDialogRouter(pending)
	b.dialogs.Register(PendingAutoDeleteTime, b.autoDelete.ProcessTime)
	b.dialogs.Register(PendingAutoRequestDelay, b.autoRequest.ProcessCustom)
	b.dialogs.Register(PendingAutoRequestWelcome, b.autoRequest.ProcessWelcome)

	return b, nil
}

// setClient attaches the Telegram client once it exists.
func (b *Bot) setClient(tgClient TelegramClient) {
	b.tgBot = tgClient
	b.ui.tg = tgClient
}

// Start verifies stored chats in the background, polls Telegram until ctx is
// done and then waits for deferred jobs to stop.
func (b *Bot) Start(ctx context.Context) {
	b.jobs.Go(func() { b.preloadChats(ctx) })
	b.tgBot.Start(ctx)
	b.jobs.Wait()
	InfoLogger.Printf("[%s] Bot stopped", b.config.ID)
}

func initTelegramBot(token string, handleUpdate func(ctx context.Context, tgBot *bot.Bot, update *models.Update)) (TelegramClient, error) {
	opts := []bot.Option{
		bot.WithDefaultHandler(handleUpdate),
		bot.WithAllowedUpdates(bot.AllowedUpdates{
			"message",
			"callback_query",
			"chat_join_request",
			"my_chat_member",
		}),
	}

	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, err
	}

	return tgBot, nil
}

// selfUser returns the bot's own account, fetched once.
func (b *Bot) selfUser(ctx context.Context) (*models.User, error) {
	b.selfMu.Lock()
	defer b.selfMu.Unlock()

	if b.self != nil {
		return b.self, nil
	}
	me, err := b.tgBot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot user: %w", err)
	}
	b.self = me
	return me, nil
}

// isChatAdmin asks Telegram whether userID is an owner or administrator of chatID.
func (b *Bot) isChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := b.tgBot.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return false, err
	}
	return isAdminType(member.Type), nil
}

// canConfigure reports whether userID may change the settings of chatID: either a
// registered chat admin or confirmed as an administrator by Telegram.
func (b *Bot) canConfigure(ctx context.Context, chatID, userID int64) (bool, error) {
	registered, err := b.store.IsChatAdmin(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	if registered {
		return true, nil
	}
	admin, err := b.isChatAdmin(ctx, chatID, userID)
	if err != nil {
		WarnLogger.Printf("[%s] Failed to check admin status of user %d in chat %d: %v", b.config.ID, userID, chatID, err)
		return false, nil
	}
	return admin, nil
}

// chatCheck is the live state of a chat as seen by Telegram.
type chatCheck struct {
	Title     string
	BotAdmin  bool
	UserAdmin bool
}

// verifyChat fetches the title and admin state of chatID, retrying with backoff.
// userID, when non-zero, is checked for admin rights too. A forbidden response
// means the bot is no longer in the chat and is not retried.
func (b *Bot) verifyChat(ctx context.Context, chatID, userID int64) (chatCheck, error) {
	me, err := b.selfUser(ctx)
	if err != nil {
		return chatCheck{}, err
	}

	var check chatCheck
	attempt := 0
	err = repeater.NewBackoff(verifyAttempts, b.verifyBackoff).Do(ctx, func() error {
		attempt++
		chat, err := b.tgBot.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
		if err != nil {
			WarnLogger.Printf("[%s] Attempt %d/%d: chat %d is inaccessible: %v", b.config.ID, attempt, verifyAttempts, chatID, err)
			return err
		}
		check.Title = chat.Title

		if check.BotAdmin, err = b.isChatAdmin(ctx, chatID, me.ID); err != nil {
			return err
		}
		if userID != 0 {
			if check.UserAdmin, err = b.isChatAdmin(ctx, chatID, userID); err != nil {
				return err
			}
		}
		return nil
	}, bot.ErrorForbidden)
	return check, err
}

// preloadChats refreshes the title and bot admin status of every stored chat.
func (b *Bot) preloadChats(ctx context.Context) {
	chats, err := b.store.AllChats(ctx)
	if err != nil {
		ErrorLogger.Printf("[%s] Failed to load chats: %v", b.config.ID, err)
		return
	}
	InfoLogger.Printf("[%s] Verifying %d chats", b.config.ID, len(chats))

	for _, chat := range chats {
		if ctx.Err() != nil {
			return
		}
		check, err := b.verifyChat(ctx, chat.ChatID, 0)
		if err != nil {
			if chat.BotAdminStatus && !errors.Is(err, bot.ErrorForbidden) {
				ErrorLogger.Printf("[%s] Failed to verify chat %d, keeping stored admin status: %v", b.config.ID, chat.ChatID, err)
				continue
			}
			ErrorLogger.Printf("[%s] Chat %d is not accessible: %v", b.config.ID, chat.ChatID, err)
			b.recordBotAdminStatus(ctx, chat.ChatID, "", false)
			continue
		}
		b.recordBotAdminStatus(ctx, chat.ChatID, check.Title, check.BotAdmin)
	}
	InfoLogger.Printf("[%s] Chat verification completed", b.config.ID)
}

// recordBotAdminStatus stores the verified state of a chat. An empty title keeps the stored one.
func (b *Bot) recordBotAdminStatus(ctx context.Context, chatID int64, title string, admin bool) {
	update := NewSettingsUpdate().Set(PathBotAdminStatus, admin)
	if title != "" {
		update.Set(PathTitle, title)
	}
	if err := b.store.Merge(ctx, chatID, update); err != nil {
		ErrorLogger.Printf("[%s] Failed to record status of chat %d: %v", b.config.ID, chatID, err)
	}
}

// notifyAdmins sends text to every stored admin of a chat. Failures are logged.
func (b *Bot) notifyAdmins(ctx context.Context, adminIDs []int64, text string) {
	for _, adminID := range adminIDs {
		if _, err := b.ui.send(ctx, adminID, text, nil); err != nil {
			ErrorLogger.Printf("[%s] Failed to notify admin %d: %v", b.config.ID, adminID, err)
		}
	}
}

func (b *Bot) sendResponse(ctx context.Context, chatID int64, text string) error {
	_, err := b.ui.send(ctx, chatID, text, nil)
	if err != nil {
		ErrorLogger.Printf("[%s] Error sending message to chat %d: %v", b.config.ID, chatID, err)
		return err
	}
	return nil
}

// sendStats replies with the number of known users and chats.
func (b *Bot) sendStats(ctx context.Context, msg *models.Message) {
	totalUsers, totalChats, err := b.getStats(ctx)
	if err != nil {
		ErrorLogger.Printf("[%s] Error fetching stats: %v", b.config.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Sorry, I couldn't retrieve the stats at this time.")
		return
	}

	statsMessage := fmt.Sprintf(
		"📊 <b>Bot Stats</b>\n\n"+
			"Total Users: %d\n"+
			"Total Chats: %d",
		totalUsers,
		totalChats,
	)
	b.sendResponse(ctx, msg.Chat.ID, statsMessage)
}

// getStats retrieves the total number of users and chats from the database.
func (b *Bot) getStats(ctx context.Context) (int64, int64, error) {
	totalUsers, err := b.store.CountUsers(ctx)
	if err != nil {
		return 0, 0, err
	}
	totalChats, err := b.store.CountChats(ctx)
	if err != nil {
		return 0, 0, err
	}
	return totalUsers, totalChats, nil
}

// broadcast forwards the message msg replies to to every known user in the background.
func (b *Bot) broadcast(ctx context.Context, msg *models.Message) {
	if msg.ReplyToMessage == nil {
		b.sendResponse(ctx, msg.Chat.ID, "Please reply to a message to broadcast.")
		return
	}

	users, err := b.store.AllUsers(ctx)
	if err != nil {
		ErrorLogger.Printf("[%s] Failed to list users for broadcast: %v", b.config.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Sorry, I couldn't start the broadcast.")
		return
	}

	source, messageID := msg.Chat.ID, msg.ReplyToMessage.ID
	interval := b.config.broadcastInterval()
	b.jobs.Go(func() {
		success := 0
		for i, userID := range users {
			if i > 0 {
				if err := b.clock.Sleep(ctx, interval); err != nil {
					return
				}
			}
			if err := b.ui.limiter.Wait(ctx, userID); err != nil {
				return
			}
			_, err := b.tgBot.ForwardMessage(ctx, &bot.ForwardMessageParams{
				ChatID:     userID,
				FromChatID: source,
				MessageID:  messageID,
			})
			if err != nil {
				ErrorLogger.Printf("[%s] Failed to broadcast to %d: %v", b.config.ID, userID, err)
				continue
			}
			success++
		}
		InfoLogger.Printf("[%s] Broadcast completed, reached %d users", b.config.ID, success)
		b.sendResponse(ctx, source, fmt.Sprintf("Broadcast sent to %d users.", success))
	})
}
