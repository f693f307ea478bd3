package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	"channel-digest-bot/conversation"
	"channel-digest-bot/job"
	"channel-digest-bot/login"
	"channel-digest-bot/model"
	"channel-digest-bot/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const adminID = 7

type mockSender struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockSender) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	return len(m.messages), nil
}

func (m *mockSender) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func (m *mockSender) last() string {
	all := m.all()
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

type mockStorage struct {
	settings map[string]string
	channels []string
	saveErr  error
}

func (m *mockStorage) SetSetting(ctx context.Context, key, value string) error {
	if m.settings == nil {
		m.settings = map[string]string{}
	}
	m.settings[key] = value
	return nil
}

func (m *mockStorage) SaveChannels(ctx context.Context, channels []string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.channels = append([]string(nil), channels...)
	return nil
}

type mockRunner struct {
	mu          sync.Mutex
	runs        [][]string
	cleared     int
	checkpoints int
}

func (m *mockRunner) RunManual(ctx context.Context, channels []string, report job.Reporter) (model.Stats, error) {
	m.mu.Lock()
	m.runs = append(m.runs, channels)
	m.mu.Unlock()
	for _, name := range channels {
		report(ctx, strings.TrimPrefix(name, "https://t.me/"), "summary of "+name)
	}
	return model.Stats{Channels: len(channels)}, nil
}

func (m *mockRunner) ClearCheckpoints(ctx context.Context) error {
	m.cleared++
	m.checkpoints = 0
	return nil
}

func (m *mockRunner) CheckpointCount() int {
	return m.checkpoints
}

type mockScheduler struct {
	updated string
}

func (m *mockScheduler) UpdateTime(summaryTime string) error {
	if !strings.HasPrefix(summaryTime, "周") {
		return errors.New("bad time")
	}
	m.updated = summaryTime
	return nil
}

func (m *mockScheduler) Next() time.Time {
	return time.Date(2024, 6, 17, 9, 0, 0, 0, time.UTC)
}

type mockPrompts struct {
	mu    sync.Mutex
	text  string
	saved []string
}

func (m *mockPrompts) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *mockPrompts) Save(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return errors.New("empty prompt")
	}
	m.text = text
	m.saved = append(m.saved, text)
	return nil
}

type fixture struct {
	bot       *Bot
	sender    *mockSender
	storage   *mockStorage
	runner    *mockRunner
	scheduler *mockScheduler
	prompts   *mockPrompts
}

func newFixture(channels ...string) *fixture {
	f := &fixture{
		sender:    &mockSender{},
		storage:   &mockStorage{},
		runner:    &mockRunner{},
		scheduler: &mockScheduler{},
		prompts:   &mockPrompts{text: "old prompt"},
	}
	f.bot = &Bot{
		Sender:        f.sender,
		Storage:       f.storage,
		Runner:        f.runner,
		Scheduler:     f.scheduler,
		Prompts:       f.prompts,
		Settings:      NewSettings(channels, "周一 09:00"),
		Conversations: conversation.NewHub(),
		AdminIDs:      []int64{adminID},
	}
	return f
}

func (f *fixture) send(from int64, text string) {
	f.bot.ProcessUpdate(context.Background(), Update{Message: textMessage(from, text)})
}

func textMessage(from int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: from},
		Chat: &tgbotapi.Chat{ID: from, Type: "private"},
	}
	if strings.HasPrefix(text, "/") {
		command := text
		if idx := strings.Index(text, " "); idx != -1 {
			command = text[:idx]
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}}
	}
	return msg
}

func TestNonAdminRejected(t *testing.T) {
	f := newFixture("chA")
	f.send(99, "/summary")

	if f.sender.last() != MsgUnauthorized {
		t.Fatalf("expected refusal, got %v", f.sender.all())
	}
	if len(f.runner.runs) != 0 {
		t.Fatalf("runner must not be called")
	}
}

func TestSummaryMatchesRequestedChannels(t *testing.T) {
	f := newFixture("https://t.me/chA", "chB")
	f.send(adminID, "/summary @chA missing")
	f.bot.Wait()

	if len(f.runner.runs) != 1 || len(f.runner.runs[0]) != 1 || f.runner.runs[0][0] != "https://t.me/chA" {
		t.Fatalf("unexpected runs %v", f.runner.runs)
	}
	msgs := f.sender.all()
	if msgs[0] != "频道 missing 不在配置列表中，将跳过" {
		t.Fatalf("expected unknown channel notice, got %q", msgs[0])
	}
	if f.sender.last() != "✈️ chA 频道周报总结\n\nsummary of https://t.me/chA" {
		t.Fatalf("unexpected report %q", f.sender.last())
	}
}

func TestSummaryWithoutValidChannels(t *testing.T) {
	f := newFixture("chA")
	f.send(adminID, "/summary nope")
	f.bot.Wait()

	if f.sender.last() != "没有找到有效的指定频道" {
		t.Fatalf("unexpected reply %v", f.sender.all())
	}
	if len(f.runner.runs) != 0 {
		t.Fatalf("runner must not be called")
	}
}

func TestSummaryWithoutSessionStartsLogin(t *testing.T) {
	f := newFixture("chA")
	f.bot.SessionExists = func() bool { return false }
	f.bot.Login = login.NewManager(nil, nil)
	f.bot.LoginTimeout = time.Second

	f.send(adminID, "/summary")
	f.send(adminID, "退出")
	f.bot.Wait()

	want := []string{MsgNeedLogin, login.MsgAskPhone, login.MsgCancelled}
	got := f.sender.all()
	if len(got) != len(want) {
		t.Fatalf("replies = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reply %d = %q, want %q", i, got[i], want[i])
		}
	}
	if len(f.runner.runs) != 0 {
		t.Fatalf("summary must not run without a session")
	}
	if f.bot.Login.Active(adminID) || f.bot.Conversations.Waiting(adminID) {
		t.Fatalf("login state not cleaned up")
	}
}

func TestLoginRefusedInGroup(t *testing.T) {
	f := newFixture("chA")
	f.bot.Login = login.NewManager(nil, nil)
	msg := textMessage(adminID, "/tg_login")
	msg.Chat = &tgbotapi.Chat{ID: -100, Type: "supergroup"}

	f.bot.ProcessUpdate(context.Background(), Update{Message: msg})
	f.bot.Wait()

	if !strings.Contains(f.sender.last(), "私聊") || f.bot.Conversations.Waiting(adminID) {
		t.Fatalf("expected refusal in group, got %v", f.sender.all())
	}
}

func TestSetPromptSavesNextMessage(t *testing.T) {
	f := newFixture("chA")
	f.send(adminID, "/setprompt")
	f.send(adminID, "  new prompt  ")
	f.bot.Wait()

	if len(f.prompts.saved) != 1 || f.prompts.saved[0] != "new prompt" {
		t.Fatalf("unexpected saved prompts %v", f.prompts.saved)
	}
	if f.sender.last() != "✅ 提示词已成功更新！" {
		t.Fatalf("unexpected reply %q", f.sender.last())
	}
	if f.bot.Conversations.Waiting(adminID) {
		t.Fatalf("inbox not closed")
	}
}

func TestSetPromptCancel(t *testing.T) {
	f := newFixture("chA")
	f.send(adminID, "/setprompt")
	f.send(adminID, "取消")
	f.bot.Wait()

	if len(f.prompts.saved) != 0 || f.sender.last() != "已取消设置提示词" {
		t.Fatalf("expected cancel, got saved=%v replies=%v", f.prompts.saved, f.sender.all())
	}
}

func TestSetPromptTimeout(t *testing.T) {
	f := newFixture("chA")
	f.bot.PromptTimeout = 10 * time.Millisecond
	f.send(adminID, "/setprompt")
	f.bot.Wait()

	if !strings.Contains(f.sender.last(), "超时") {
		t.Fatalf("expected timeout reply, got %q", f.sender.last())
	}
	if f.bot.Conversations.Waiting(adminID) {
		t.Fatalf("inbox not closed after timeout")
	}
}

func TestSetPromptBusy(t *testing.T) {
	f := newFixture("chA")
	if _, err := f.bot.Conversations.Open(adminID); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.send(adminID, "/setprompt")

	if f.sender.last() != MsgConversationBusy {
		t.Fatalf("expected busy reply, got %q", f.sender.last())
	}
}

func TestAddAndDeleteChannel(t *testing.T) {
	f := newFixture("chA")

	f.send(adminID, "/addchannel https://t.me/chB")
	if got := f.bot.Settings.Channels(); len(got) != 2 || got[1] != "https://t.me/chB" {
		t.Fatalf("unexpected channels %v", got)
	}
	if len(f.storage.channels) != 2 {
		t.Fatalf("channels not persisted: %v", f.storage.channels)
	}

	f.send(adminID, "/addchannel @chA")
	if !strings.Contains(f.sender.last(), "已存在") {
		t.Fatalf("expected duplicate notice, got %q", f.sender.last())
	}

	f.send(adminID, "/deletechannel chB")
	if got := f.bot.Settings.Channels(); len(got) != 1 || got[0] != "chA" {
		t.Fatalf("unexpected channels after delete %v", got)
	}

	f.send(adminID, "/deletechannel chZ")
	if f.sender.last() != "频道 chZ 不在列表中" {
		t.Fatalf("unexpected reply %q", f.sender.last())
	}
}

func TestAddChannelPersistFailureKeepsList(t *testing.T) {
	f := newFixture("chA")
	f.storage.saveErr = errors.New("locked")

	f.send(adminID, "/addchannel chB")

	if got := f.bot.Settings.Channels(); len(got) != 1 {
		t.Fatalf("settings changed despite save failure: %v", got)
	}
}

func TestShowChannelsAndPrompt(t *testing.T) {
	f := newFixture("chA", "chB")
	f.send(adminID, "/showchannels")
	if f.sender.last() != "当前配置的频道列表：\n\n1. chA\n2. chB" {
		t.Fatalf("unexpected list %q", f.sender.last())
	}
	f.send(adminID, "/showprompt")
	if f.sender.last() != "当前提示词：\n\nold prompt" {
		t.Fatalf("unexpected prompt reply %q", f.sender.last())
	}
}

func TestClearSummaryTime(t *testing.T) {
	f := newFixture("chA")
	f.runner.checkpoints = 3
	f.bot.LookbackDays = 14
	f.send(adminID, "/clearsummarytime")

	if f.runner.cleared != 1 || !strings.Contains(f.sender.last(), "过去14天") {
		t.Fatalf("unexpected clear result %d %q", f.runner.cleared, f.sender.last())
	}
}

func TestSetSummaryTime(t *testing.T) {
	f := newFixture("chA")
	f.send(adminID, "/setsummarytime 周五 18:30")

	if f.scheduler.updated != "周五 18:30" || f.bot.Settings.SummaryTime() != "周五 18:30" {
		t.Fatalf("schedule not updated")
	}
	if f.storage.settings[storage.SettingSummaryTime] != "周五 18:30" {
		t.Fatalf("summary time not persisted: %v", f.storage.settings)
	}

	f.send(adminID, "/setsummarytime someday")
	if f.bot.Settings.SummaryTime() != "周五 18:30" || !strings.Contains(f.sender.last(), "格式错误") {
		t.Fatalf("invalid time should be rejected, got %q", f.sender.last())
	}
}

func TestStatus(t *testing.T) {
	f := newFixture("chA", "chB")
	f.runner.checkpoints = 1
	f.bot.SessionExists = func() bool { return true }
	f.send(adminID, "/status")

	status := f.sender.last()
	for _, want := range []string{"频道数量：2", "已记录总结时间的频道：1", "周一 09:00", "2024-06-17 09:00", "已保存"} {
		if !strings.Contains(status, want) {
			t.Fatalf("status missing %q:\n%s", want, status)
		}
	}
}

func TestPlainTextWithoutConversationIgnored(t *testing.T) {
	f := newFixture("chA")
	f.send(adminID, "hello")
	if len(f.sender.all()) != 0 {
		t.Fatalf("expected no reply, got %v", f.sender.all())
	}
}

func TestSplit(t *testing.T) {
	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	parts := Split(text, 10)
	if len(parts) != 2 || parts[0] != "aaaaaa" || parts[1] != "bbbbbb" {
		t.Fatalf("unexpected parts %q", parts)
	}
	if parts := Split("短消息", 10); len(parts) != 1 {
		t.Fatalf("short text should not split: %q", parts)
	}
	long := Split(strings.Repeat("x", 25), 10)
	if len(long) != 3 || len(long[0]) != 10 || len(long[2]) != 5 {
		t.Fatalf("unexpected hard split %q", long)
	}
}

func TestSplitCountsUTF16Units(t *testing.T) {
	parts := Split(strings.Repeat("😀", 6), 10)
	if len(parts) != 2 || parts[0] != strings.Repeat("😀", 5) || parts[1] != "😀" {
		t.Fatalf("unexpected parts %q", parts)
	}
	for _, part := range Split(strings.Repeat("频道😀\n", 2000), MaxMessageLen) {
		if n := len(utf16.Encode([]rune(part))); n > MaxMessageLen {
			t.Fatalf("part has %d UTF-16 units, limit %d", n, MaxMessageLen)
		}
	}
}

func TestRecipientMessage(t *testing.T) {
	msg, err := recipientMessage("-1001234", "hi")
	if err != nil || msg.ChatID != -1001234 {
		t.Fatalf("numeric recipient: %+v %v", msg, err)
	}
	msg, err = recipientMessage("news", "hi")
	if err != nil || msg.ChannelUsername != "@news" {
		t.Fatalf("username recipient: %+v %v", msg, err)
	}
	if _, err := recipientMessage(" ", "hi"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}

type failingSender struct {
	mockSender
	fail map[int64]bool
}

func (f *failingSender) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if f.fail[chatID] {
		return 0, errors.New("blocked")
	}
	return f.mockSender.SendText(ctx, chatID, text)
}

func TestAlerterSendsToEveryRecipient(t *testing.T) {
	sender := &failingSender{fail: map[int64]bool{2: true}}
	a := &Alerter{Sender: sender, Recipients: []int64{1, 2, 3}}

	err := a.Alert(context.Background(), "alert")
	if err == nil || !strings.Contains(err.Error(), "alert 2") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(sender.all()) != 2 {
		t.Fatalf("expected delivery to the other recipients, got %v", sender.all())
	}
}
