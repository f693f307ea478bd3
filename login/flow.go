package login

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"channel-digest-bot/conversation"
)

// DefaultTimeout is the inactivity limit of a login.
const DefaultTimeout = 120 * time.Second

const (
	MsgAskPhone       = "📱 请输入 Telegram 账号的手机号（需包含国家代码，如 +8613812345678）\n\n⏱️ 120 秒内无输入将自动退出，发送「退出」可随时取消"
	MsgBadPhone       = "❌ 手机号格式错误，必须以 + 开头（包含国家代码），请重新输入或发送「退出」取消"
	MsgAskCode        = "📩 验证码已发送到您的 Telegram 应用或短信，请输入验证码"
	MsgAskPassword    = "🔐 账号启用了两步验证，请输入两步验证密码（输入后建议撤回该消息）"
	MsgDone           = "✅ 登录成功，会话已保存"
	MsgCancelled      = "已取消登录"
	MsgTimeout        = "⏱️ 登录超时，请使用 /tg_login 重新开始"
	MsgAlreadyActive  = "⚠️ 您已有一个正在进行的登录流程，请先完成或发送「退出」取消"
	MsgSendCodeFailed = "❌ 发送验证码失败，请检查手机号和网络连接后使用 /tg_login 重试"
	MsgSignInFailed   = "❌ 登录失败，验证码可能错误或已过期，请使用 /tg_login 重新开始"
	MsgPasswordFailed = "❌ 两步验证密码错误，请使用 /tg_login 重新开始"
)

// Flow drives one user's login from start to a terminal outcome.
type Flow struct {
	Manager *Manager
	Timeout time.Duration
	Reply   func(ctx context.Context, text string)
	Logger  *slog.Logger
}

// Run starts a login for the user and consumes replies from inbox until the
// login ends. The inbox is closed on return.
func (f *Flow) Run(ctx context.Context, userID int64, inbox *conversation.Inbox) Outcome {
	defer inbox.Close()
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	reply, err := f.Manager.Start(userID)
	f.send(ctx, reply.Text)
	if err != nil {
		return Failed
	}

	for {
		input, err := inbox.Next(ctx, timeout)
		switch {
		case errors.Is(err, conversation.ErrCancelled):
			f.send(ctx, f.Manager.Cancel(userID).Text)
			return Cancelled
		case errors.Is(err, conversation.ErrTimeout):
			logger.Info("login_timeout", slog.Int64("user_id", userID))
			f.send(ctx, f.Manager.Expire(userID).Text)
			return Failed
		case err != nil:
			f.Manager.Cancel(userID)
			return Cancelled
		}

		reply, err := f.Manager.Step(ctx, userID, input)
		if err != nil {
			logger.Warn("login_step_failed", slog.Int64("user_id", userID), slog.String("error", err.Error()))
			return Failed
		}
		f.send(ctx, reply.Text)
		if reply.Outcome != Pending {
			return reply.Outcome
		}
	}
}

func (f *Flow) send(ctx context.Context, text string) {
	if f.Reply != nil && text != "" {
		f.Reply(ctx, text)
	}
}
