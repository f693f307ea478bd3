package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	recipient string
	text      string
}

type mockSender struct {
	sent   []sent
	failOn map[string]bool
}

func (m *mockSender) SendTo(ctx context.Context, recipient, text string) error {
	if m.failOn[recipient] {
		return errors.New("forbidden")
	}
	m.sent = append(m.sent, sent{recipient: recipient, text: text})
	return nil
}

func TestTargetsGroupsFirst(t *testing.T) {
	got := Targets([]string{"g1", " ", "g2"}, []string{"u1"})
	want := []Target{{KindGroup, "g1"}, {KindGroup, "g2"}, {KindUser, "u1"}}
	assert.Equal(t, want, got)
}

func TestRender(t *testing.T) {
	assert.Equal(t, "【频道周报】chA\n\nbody", Render("【频道周报】{channel_name}", "", "chA", "body"))
	assert.Equal(t, "T chA\n\nbody\n\n-- chA", Render("T {channel_name}", "-- {channel_name}", "chA", "body"))
}

func TestDispatchSequentialWithJitter(t *testing.T) {
	sender := &mockSender{}
	var delays []time.Duration
	d := &Dispatcher{
		Sender:   sender,
		Targets:  Targets([]string{"g1"}, []string{"u1", "u2"}),
		Title:    "【频道周报】{channel_name}",
		MinDelay: time.Second,
		MaxDelay: 3 * time.Second,
		Sleep:    func(ctx context.Context, d time.Duration) { delays = append(delays, d) },
	}

	res := d.Dispatch(context.Background(), "chA", "summary")

	require.Equal(t, Result{Success: 3}, res)
	require.Len(t, sender.sent, 3)
	assert.Equal(t, "g1", sender.sent[0].recipient)
	assert.Equal(t, "u2", sender.sent[2].recipient)
	assert.Equal(t, "【频道周报】chA\n\nsummary", sender.sent[0].text)

	require.Len(t, delays, 2, "expected a delay between sends only")
	for _, delay := range delays {
		assert.GreaterOrEqual(t, delay, time.Second)
		assert.LessOrEqual(t, delay, 3*time.Second)
	}
}

func TestDispatchCountsFailures(t *testing.T) {
	sender := &mockSender{failOn: map[string]bool{"g1": true}}
	d := &Dispatcher{
		Sender:  sender,
		Targets: Targets([]string{"g1"}, []string{"u1"}),
		Sleep:   func(context.Context, time.Duration) {},
	}

	res := d.Dispatch(context.Background(), "chA", "summary")

	assert.Equal(t, Result{Success: 1, Fail: 1}, res)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "u1", sender.sent[0].recipient)
}

func TestDispatchSkipsEmptySummary(t *testing.T) {
	sender := &mockSender{}
	d := &Dispatcher{Sender: sender, Targets: Targets([]string{"g1"}, nil)}

	assert.Equal(t, Result{}, d.Dispatch(context.Background(), "chA", "  "))
	assert.Empty(t, sender.sent)
}

func TestUniformBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		got := Uniform(time.Second, 3*time.Second)
		require.GreaterOrEqual(t, got, time.Second)
		require.LessOrEqual(t, got, 3*time.Second)
	}
	assert.Equal(t, time.Second, Uniform(time.Second, time.Second))
}

func TestDefaultSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Dispatcher{}
	start := time.Now()
	d.sleep(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}
