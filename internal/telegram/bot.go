package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/coordinator"
	"github.com/mtzanidakis/crew/internal/registry"
	"github.com/mtzanidakis/crew/internal/router"
)

const sourcePrefix = "telegram:"

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	coord   *coordinator.Coordinator
	router  *router.Router
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, coord *coordinator.Coordinator, rtr *router.Router) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := &Bot{
		bot:    bot,
		coord:  coord,
		router: rtr,
		cfg:    cfg,
	}

	// Send finished runs back to the chat that started them
	coord.OnFinished(func(run coordinator.Run) {
		chatID, ok := chatOf(run.Source)
		if !ok {
			return
		}
		if err := b.SendMessage(context.Background(), chatID, formatResult(run)); err != nil {
			slog.Error("failed to send telegram message", "chat", chatID, "error", err)
		}
	})

	return b, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	if msg.From == nil {
		return
	}
	userID := msg.From.ID

	// Check allow list
	if len(b.cfg.AllowFrom) > 0 && !slices.Contains(b.cfg.AllowFrom, userID) {
		slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
		return
	}

	text := msg.Text
	if text == "" {
		if msg.Caption != "" {
			text = msg.Caption
		} else {
			return
		}
	}

	// Send thinking indicator
	_ = b.sendChatAction(ctx, chatID, "typing")

	reply := b.reply(ctx, chatID, text)
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("failed to send telegram reply", "chat", chatID, "error", err)
	}
}

// reply handles one message and returns the answer for the chat. Crew runs
// are started in the background; their results arrive through the
// coordinator's finish notification.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) string {
	text = strings.TrimSpace(text)
	cmd, arg, _ := strings.Cut(text, " ")
	switch cmd {
	case "/start", "/help":
		return helpText
	case "/crews":
		return formatCrews(b.coord.Registry().List())
	case "/runs":
		return formatRuns(b.coord.Runs(), 10)
	case "/status":
		run, ok := b.coord.Get(strings.TrimSpace(arg))
		if !ok {
			return "No such run."
		}
		return formatStatus(run)
	}

	route, err := b.router.Route(ctx, text)
	if err != nil {
		slog.Error("route message failed", "chat", chatID, "error", err)
		return "Sorry, I could not find a crew for your message."
	}

	run, err := b.coord.Start(ctx, coordinator.RunRequest{
		Crew:   route.Crew,
		Params: route.Params,
		Source: sourcePrefix + strconv.FormatInt(chatID, 10),
	})
	switch {
	case errors.Is(err, registry.ErrMissingParams):
		def, _ := b.coord.Registry().Get(route.Crew)
		return fmt.Sprintf("Crew **%s** needs these parameters, one per line as `name: value`:\n%s",
			route.Crew, strings.Join(def.Params(), "\n"))
	case err != nil:
		slog.Error("start crew failed", "chat", chatID, "crew", route.Crew, "error", err)
		return "Sorry, I encountered an error starting the crew."
	}
	return fmt.Sprintf("Crew **%s** started, run `%s`. I will send the result when it is done.", run.Crew, run.ID)
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(toTelegramMarkdown(text), 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk).WithParseMode(telego.ModeMarkdown)
		if _, err := b.bot.SendMessage(ctx, msg); err != nil {
			// Model output is not always valid Markdown; retry as plain text.
			slog.Debug("markdown send failed, retrying as plain text", "chat", chatID, "error", err)
			if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}

func chatOf(source string) (int64, bool) {
	raw, ok := strings.CutPrefix(source, sourcePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}
