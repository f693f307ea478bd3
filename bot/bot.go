package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"channel-digest-bot/channel"
	"channel-digest-bot/conversation"
	"channel-digest-bot/job"
	"channel-digest-bot/login"
	"channel-digest-bot/model"
	"channel-digest-bot/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultPromptTimeout bounds the wait for a new prompt after /setprompt.
const DefaultPromptTimeout = 60 * time.Second

// Storage defines persistence used by bot handlers.
type Storage interface {
	SetSetting(ctx context.Context, key, value string) error
	SaveChannels(ctx context.Context, channels []string) error
}

// Runner runs the digest pipeline and owns the checkpoints.
type Runner interface {
	RunManual(ctx context.Context, channels []string, report job.Reporter) (model.Stats, error)
	ClearCheckpoints(ctx context.Context) error
	CheckpointCount() int
}

// Scheduler controls the weekly trigger.
type Scheduler interface {
	UpdateTime(summaryTime string) error
	Next() time.Time
}

// Prompts reads and writes the instruction prompt.
type Prompts interface {
	Load() (string, error)
	Save(text string) error
}

// Bot handles Telegram updates.
type Bot struct {
	Sender        Sender
	Storage       Storage
	Runner        Runner
	Scheduler     Scheduler
	Prompts       Prompts
	Settings      *Settings
	Conversations *conversation.Hub
	// Login is nil when the fetch source needs no user session.
	Login         *login.Manager
	SessionExists func() bool
	AdminIDs      []int64
	LookbackDays  int
	PromptTimeout time.Duration
	LoginTimeout  time.Duration
	Logger        *slog.Logger

	wg sync.WaitGroup
}

// ProcessUpdate dispatches a Telegram update.
func (b *Bot) ProcessUpdate(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	logger := b.logger().With(slog.Int64("user_id", msg.From.ID), slog.Int64("chat_id", msg.Chat.ID))

	if !msg.IsCommand() || conversation.IsCancel(msg.Text) {
		if b.Conversations != nil && b.Conversations.Deliver(msg.From.ID, msg.Text) {
			return
		}
		if !msg.IsCommand() {
			return
		}
	}

	if !b.isAdmin(msg.From.ID) {
		logger.Warn("command_unauthorized", slog.String("command", msg.Command()))
		b.reply(ctx, msg.Chat.ID, MsgUnauthorized)
		return
	}

	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	logger.Info("command_received", slog.String("command", command), slog.String("args", args))

	switch command {
	case "summary":
		b.handleSummary(ctx, logger, msg, args)
	case "showprompt":
		b.handleShowPrompt(ctx, logger, msg.Chat.ID)
	case "setprompt":
		b.handleSetPrompt(ctx, logger, msg)
	case "showchannels":
		b.handleShowChannels(ctx, msg.Chat.ID)
	case "addchannel":
		b.handleAddChannel(ctx, logger, msg.Chat.ID, args)
	case "deletechannel":
		b.handleDeleteChannel(ctx, logger, msg.Chat.ID, args)
	case "clearsummarytime":
		b.handleClearCheckpoints(ctx, logger, msg.Chat.ID)
	case "setsummarytime":
		b.handleSetSummaryTime(ctx, logger, msg.Chat.ID, args)
	case "tg_login":
		b.startLogin(ctx, logger, msg)
	case "status":
		b.handleStatus(ctx, msg.Chat.ID)
	case "start", "help":
		b.reply(ctx, msg.Chat.ID, MsgHelp)
	default:
		b.reply(ctx, msg.Chat.ID, MsgUnknownCommand)
	}
}

// Wait blocks until background command handlers finish. ProcessUpdate must
// not be called once Wait has started.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (b *Bot) isAdmin(userID int64) bool {
	return slices.Contains(b.AdminIDs, userID)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.Sender.SendText(ctx, chatID, text); err != nil {
		b.logger().Warn("reply_failed", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
	}
}

// async runs long handlers off the polling loop so that follow-up messages
// can still be delivered to waiting conversations.
func (b *Bot) async(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *Bot) handleSummary(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	if b.SessionExists != nil && !b.SessionExists() {
		logger.Info("summary_without_session")
		b.reply(ctx, chatID, MsgNeedLogin)
		b.startLogin(ctx, logger, msg)
		return
	}

	channels := b.Settings.Channels()
	if requested := strings.Fields(args); len(requested) > 0 {
		matched, unknown := channel.Match(channels, requested)
		for _, name := range unknown {
			b.reply(ctx, chatID, fmt.Sprintf("频道 %s 不在配置列表中，将跳过", name))
		}
		if len(matched) == 0 {
			b.reply(ctx, chatID, "没有找到有效的指定频道")
			return
		}
		channels = matched
	}
	if len(channels) == 0 {
		b.reply(ctx, chatID, MsgNoChannels)
		return
	}

	b.reply(ctx, chatID, "正在为您生成本周总结...")
	b.async(func() {
		report := func(ctx context.Context, name, summary string) {
			b.reply(ctx, chatID, fmt.Sprintf("✈️ %s 频道周报总结\n\n%s", name, summary))
		}
		stats, err := b.Runner.RunManual(ctx, channels, report)
		if err != nil {
			logger.Error("manual_summary_failed", slog.String("error", err.Error()))
			b.reply(ctx, chatID, "❌ 生成总结时出错，请检查日志获取详细信息")
			return
		}
		logger.Info("manual_summary_done", slog.String("stats", stats.String()))
	})
}

func (b *Bot) handleShowPrompt(ctx context.Context, logger *slog.Logger, chatID int64) {
	current, err := b.Prompts.Load()
	if err != nil {
		logger.Warn("prompt_load_failed", slog.String("error", err.Error()))
		b.reply(ctx, chatID, "❌ 读取提示词失败，请检查日志")
		return
	}
	b.reply(ctx, chatID, "当前提示词：\n\n"+current)
}

func (b *Bot) handleSetPrompt(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	inbox, err := b.Conversations.Open(userID)
	if err != nil {
		b.reply(ctx, chatID, MsgConversationBusy)
		return
	}
	current, err := b.Prompts.Load()
	if err != nil {
		logger.Warn("prompt_load_failed", slog.String("error", err.Error()))
	}
	b.reply(ctx, chatID, fmt.Sprintf("请发送新的提示词，我将使用它来生成总结。发送「取消」可放弃修改。\n\n当前提示词：\n%s", current))

	timeout := b.PromptTimeout
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	b.async(func() {
		defer inbox.Close()
		text, err := inbox.Next(ctx, timeout)
		switch {
		case errors.Is(err, conversation.ErrCancelled):
			b.reply(ctx, chatID, "已取消设置提示词")
			return
		case errors.Is(err, conversation.ErrTimeout):
			logger.Info("setprompt_timeout")
			b.reply(ctx, chatID, "⏱️ 设置提示词超时，请重新使用 /setprompt 命令")
			return
		case err != nil:
			return
		}
		if err := b.Prompts.Save(text); err != nil {
			logger.Warn("prompt_save_failed", slog.String("error", err.Error()))
			b.reply(ctx, chatID, "❌ 设置提示词时出错，请稍后重试")
			return
		}
		logger.Info("prompt_updated", slog.Int("chars", len([]rune(text))))
		b.reply(ctx, chatID, "✅ 提示词已成功更新！")
	})
}

func (b *Bot) handleShowChannels(ctx context.Context, chatID int64) {
	channels := b.Settings.Channels()
	if len(channels) == 0 {
		b.reply(ctx, chatID, "当前没有配置任何频道")
		return
	}
	var bld strings.Builder
	bld.WriteString("当前配置的频道列表：\n\n")
	for i, name := range channels {
		fmt.Fprintf(&bld, "%d. %s\n", i+1, name)
	}
	b.reply(ctx, chatID, strings.TrimSpace(bld.String()))
}

func (b *Bot) handleAddChannel(ctx context.Context, logger *slog.Logger, chatID int64, args string) {
	if channel.Normalize(args) == "" {
		b.reply(ctx, chatID, "请提供有效的频道URL，例如：/addchannel https://t.me/examplechannel")
		return
	}
	channels := b.Settings.Channels()
	if channel.Contains(channels, args) {
		b.reply(ctx, chatID, fmt.Sprintf("频道 %s 已存在于列表中", args))
		return
	}
	channels = append(channels, args)
	if err := b.Storage.SaveChannels(ctx, channels); err != nil {
		logger.Warn("channels_save_failed", slog.String("error", err.Error()))
		b.reply(ctx, chatID, "❌ 添加频道失败，请稍后重试")
		return
	}
	b.Settings.SetChannels(channels)
	logger.Info("channel_added", slog.String("channel", args))
	b.reply(ctx, chatID, fmt.Sprintf("频道 %s 已成功添加到列表中\n\n当前频道数量：%d", args, len(channels)))
}

func (b *Bot) handleDeleteChannel(ctx context.Context, logger *slog.Logger, chatID int64, args string) {
	if channel.Normalize(args) == "" {
		b.reply(ctx, chatID, "请提供有效的频道URL，例如：/deletechannel https://t.me/examplechannel")
		return
	}
	channels, ok := channel.Remove(b.Settings.Channels(), args)
	if !ok {
		b.reply(ctx, chatID, fmt.Sprintf("频道 %s 不在列表中", args))
		return
	}
	if err := b.Storage.SaveChannels(ctx, channels); err != nil {
		logger.Warn("channels_save_failed", slog.String("error", err.Error()))
		b.reply(ctx, chatID, "❌ 删除频道失败，请稍后重试")
		return
	}
	b.Settings.SetChannels(channels)
	logger.Info("channel_deleted", slog.String("channel", args))
	b.reply(ctx, chatID, fmt.Sprintf("频道 %s 已成功从列表中删除\n\n当前频道数量：%d", args, len(channels)))
}

func (b *Bot) handleClearCheckpoints(ctx context.Context, logger *slog.Logger, chatID int64) {
	if err := b.Runner.ClearCheckpoints(ctx); err != nil {
		logger.Warn("checkpoints_clear_failed", slog.String("error", err.Error()))
		b.reply(ctx, chatID, "❌ 清除记录失败，请检查文件权限")
		return
	}
	days := b.LookbackDays
	if days <= 0 {
		days = 7
	}
	b.reply(ctx, chatID, fmt.Sprintf("所有频道的上次总结时间记录已成功清除\n\n下次总结将使用默认时间范围（过去%d天）", days))
}

func (b *Bot) handleSetSummaryTime(ctx context.Context, logger *slog.Logger, chatID int64, args string) {
	if args == "" {
		b.reply(ctx, chatID, "用法：/setsummarytime 周一 09:00")
		return
	}
	if err := b.Scheduler.UpdateTime(args); err != nil {
		logger.Warn("schedule_update_failed", slog.String("error", err.Error()))
		b.reply(ctx, chatID, "❌ 时间格式错误，示例：/setsummarytime 周一 09:00")
		return
	}
	b.Settings.SetSummaryTime(args)
	if err := b.Storage.SetSetting(ctx, storage.SettingSummaryTime, args); err != nil {
		logger.Warn("summary_time_save_failed", slog.String("error", err.Error()))
	}
	b.reply(ctx, chatID, fmt.Sprintf("定时总结时间已更新为 %s\n下次执行：%s", args, formatNext(b.Scheduler.Next())))
}

func (b *Bot) startLogin(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	if b.Login == nil {
		b.reply(ctx, chatID, "当前抓取方式无需登录")
		return
	}
	if !msg.Chat.IsPrivate() {
		b.reply(ctx, chatID, "⚠️ 请在与机器人的私聊中使用 /tg_login")
		return
	}
	inbox, err := b.Conversations.Open(userID)
	if err != nil {
		b.reply(ctx, chatID, login.MsgAlreadyActive)
		return
	}
	flow := &login.Flow{
		Manager: b.Login,
		Timeout: b.LoginTimeout,
		Reply:   func(ctx context.Context, text string) { b.reply(ctx, chatID, text) },
		Logger:  logger,
	}
	b.async(func() {
		outcome := flow.Run(ctx, userID, inbox)
		logger.Info("login_flow_finished", slog.String("outcome", outcome.String()))
	})
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	session := "无需登录"
	if b.SessionExists != nil {
		session = "未登录"
		if b.SessionExists() {
			session = "已保存"
		}
	}
	var bld strings.Builder
	bld.WriteString("📊 运行状态\n\n")
	fmt.Fprintf(&bld, "频道数量：%d\n", len(b.Settings.Channels()))
	fmt.Fprintf(&bld, "已记录总结时间的频道：%d\n", b.Runner.CheckpointCount())
	fmt.Fprintf(&bld, "定时总结：%s\n", b.Settings.SummaryTime())
	if b.Scheduler != nil {
		fmt.Fprintf(&bld, "下次执行：%s\n", formatNext(b.Scheduler.Next()))
	}
	fmt.Fprintf(&bld, "抓取会话：%s", session)
	b.reply(ctx, chatID, bld.String())
}

func formatNext(t time.Time) string {
	if t.IsZero() {
		return "未安排"
	}
	return t.Format("2006-01-02 15:04 MST")
}

const (
	MsgUnauthorized     = "⛔ 仅管理员可以使用此命令"
	MsgUnknownCommand   = "未知命令，发送 /help 查看可用命令"
	MsgNoChannels       = "当前没有配置任何频道"
	MsgConversationBusy = "您有一个正在进行的会话，请先完成或发送「取消」"
	MsgNeedLogin        = "⚠️ 未检测到登录信息\n\n请先完成 Telegram 登录才能使用此功能。\n正在自动启动登录流程..."
	MsgHelp             = `频道周报机器人

/summary [频道...] 立即生成总结（可指定频道名或链接）
/showprompt 查看当前提示词
/setprompt 设置新的提示词
/showchannels 查看频道列表
/addchannel <频道> 添加频道
/deletechannel <频道> 删除频道
/clearsummarytime 清除各频道的上次总结时间
/setsummarytime <周X HH:MM> 修改定时总结时间
/tg_login 登录 Telegram 账号
/status 查看运行状态`
)
