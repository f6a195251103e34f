package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/anonchat/internal/model"
	"github.com/hitoshi/anonchat/internal/pairing"
	"github.com/hitoshi/anonchat/internal/relay"
)

// --- モック定義 ---

type notice struct {
	target string
	text   string
}

// mockNotifier は送信された通知を記録する。panicOnは指定宛先でpanicを起こす。
type mockNotifier struct {
	mu      sync.Mutex
	sent    []notice
	panicOn string
}

func (m *mockNotifier) NotifyText(ctx context.Context, target, text string) {
	if target == m.panicOn {
		panic("transport exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notice{target: target, text: text})
}

func (m *mockNotifier) textsFor(target string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, n := range m.sent {
		if n.target == target {
			out = append(out, n.text)
		}
	}
	return out
}

// mockCollector は監視ジョブが記録するメトリクスを保持する。
type mockCollector struct {
	expired        int
	closedByReason map[string]int
	pending        int
	sessions       int
}

func (m *mockCollector) RecordPairingRequest(string)      {}
func (m *mockCollector) RecordSessionEstablished()        {}
func (m *mockCollector) RecordRelay(string, bool)         {}
func (m *mockCollector) RecordRelayLatency(time.Duration) {}
func (m *mockCollector) RecordRateLimited()               {}
func (m *mockCollector) RecordPendingExpired(n int)       { m.expired += n }
func (m *mockCollector) SetActive(pending, sessions int) {
	m.pending, m.sessions = pending, sessions
}
func (m *mockCollector) RecordSessionClosed(reason string) {
	if m.closedByReason == nil {
		m.closedByReason = make(map[string]int)
	}
	m.closedByReason[reason]++
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type fixture struct {
	clock     *fakeClock
	coord     *pairing.Coordinator
	notifier  *mockNotifier
	collector *mockCollector
	monitor   *Monitor
	logs      *bytes.Buffer
}

func newFixture() *fixture {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	coord := pairing.NewCoordinator(pairing.Config{Now: clock.Now})
	notifier := &mockNotifier{}
	collector := &mockCollector{}
	var buf bytes.Buffer
	m := NewMonitor(coord, notifier, collector, newTestLogger(&buf), DefaultConfig())
	m.now = clock.Now
	return &fixture{
		clock:     clock,
		coord:     coord,
		notifier:  notifier,
		collector: collector,
		monitor:   m,
		logs:      &buf,
	}
}

// --- テスト ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != 60*time.Second {
		t.Errorf("Interval = %v, want 60s", cfg.Interval)
	}
	if cfg.PendingTimeout != 5*time.Minute {
		t.Errorf("PendingTimeout = %v, want 5m", cfg.PendingTimeout)
	}
	if cfg.IdleTimeout != 30*time.Minute {
		t.Errorf("IdleTimeout = %v, want 30m", cfg.IdleTimeout)
	}
}

func TestMonitor_RunOnce_ExpiresOldRequests(t *testing.T) {
	f := newFixture()
	if _, err := f.coord.Request("c", "a"); err != nil {
		t.Fatalf("Request がエラーを返した: %v", err)
	}
	f.clock.Advance(2 * time.Minute)
	if _, err := f.coord.Request("d", "b"); err != nil {
		t.Fatalf("Request がエラーを返した: %v", err)
	}

	// c→a のみ5分を超過
	f.clock.Advance(3*time.Minute + time.Second)
	result := f.monitor.RunOnce(context.Background())

	if result.ExpiredRequests != 1 {
		t.Errorf("ExpiredRequests = %d, want 1", result.ExpiredRequests)
	}
	if _, err := f.coord.Accept("a"); !model.IsCode(err, model.ErrCodeNoPendingRequest) {
		t.Errorf("期限切れ後の Accept(a) のエラー = %v, want NO_PENDING_REQUEST", err)
	}
	if _, err := f.coord.Reject("a"); !model.IsCode(err, model.ErrCodeNoPendingRequest) {
		t.Errorf("期限切れ後の Reject(a) のエラー = %v, want NO_PENDING_REQUEST", err)
	}
	if _, ok := f.coord.PendingFor("b"); !ok {
		t.Error("期限内のリクエスト d→b が削除された")
	}

	if got := f.notifier.textsFor("c"); len(got) != 1 || got[0] != relay.MsgRequestExpired {
		t.Errorf("リクエスト送信者への通知 = %v", got)
	}
	if got := f.notifier.textsFor("a"); len(got) != 1 || got[0] != relay.MsgRequestWithdrawn {
		t.Errorf("リクエスト受信者への通知 = %v", got)
	}
	if f.collector.expired != 1 {
		t.Errorf("期限切れメトリクス = %d, want 1", f.collector.expired)
	}
	if f.collector.pending != 1 {
		t.Errorf("残りのリクエスト数ゲージ = %d, want 1", f.collector.pending)
	}
}

func TestMonitor_RunOnce_ClosesIdleSessions(t *testing.T) {
	f := newFixture()
	for _, pair := range [][2]string{{"c", "a"}, {"d", "b"}} {
		if _, err := f.coord.Request(pair[0], pair[1]); err != nil {
			t.Fatalf("Request がエラーを返した: %v", err)
		}
		if _, err := f.coord.Accept(pair[1]); err != nil {
			t.Fatalf("Accept がエラーを返した: %v", err)
		}
	}

	f.clock.Advance(20 * time.Minute)
	f.coord.Touch("b") // d↔b は活動中
	f.clock.Advance(11 * time.Minute)

	result := f.monitor.RunOnce(context.Background())
	if result.ClosedSessions != 1 {
		t.Fatalf("ClosedSessions = %d, want 1", result.ClosedSessions)
	}
	for _, id := range []string{"a", "c"} {
		if _, ok := f.coord.PartnerOf(id); ok {
			t.Errorf("%s のチャットが終了していない", id)
		}
		if got := f.notifier.textsFor(id); len(got) != 1 || got[0] != relay.MsgSessionIdleTimeout {
			t.Errorf("%s への通知 = %v", id, got)
		}
	}
	if p, ok := f.coord.PartnerOf("d"); !ok || p != "b" {
		t.Error("活動中のチャット d↔b が終了した")
	}
	if f.collector.closedByReason["idle_timeout"] != 1 {
		t.Errorf("終了メトリクス = %v", f.collector.closedByReason)
	}
	if f.collector.sessions != 1 {
		t.Errorf("チャット数ゲージ = %d, want 1", f.collector.sessions)
	}
}

func TestMonitor_RunOnce_NothingToDo(t *testing.T) {
	f := newFixture()
	result := f.monitor.RunOnce(context.Background())

	if result != (Result{}) {
		t.Errorf("Result = %+v, want ゼロ値", result)
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("通知が送信された: %v", f.notifier.sent)
	}
	if f.logs.Len() != 0 {
		t.Errorf("掃除対象がないのにログが出力された: %s", f.logs.String())
	}
}

func TestMonitor_RunOnce_RecoversNotifierPanic(t *testing.T) {
	f := newFixture()
	if _, err := f.coord.Request("c", "a"); err != nil {
		t.Fatalf("Request がエラーを返した: %v", err)
	}
	if _, err := f.coord.Request("d", "b"); err != nil {
		t.Fatalf("Request がエラーを返した: %v", err)
	}
	f.notifier.panicOn = "c"
	f.clock.Advance(10 * time.Minute)

	result := f.monitor.RunOnce(context.Background())
	if result.ExpiredRequests != 2 {
		t.Fatalf("ExpiredRequests = %d, want 2", result.ExpiredRequests)
	}
	// panic後も残りの通知は送信される
	if got := f.notifier.textsFor("d"); len(got) != 1 {
		t.Errorf("d への通知 = %v, want 1件", got)
	}
	if got := f.notifier.textsFor("a"); len(got) != 1 {
		t.Errorf("a への通知 = %v, want 1件", got)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("ログがJSONではない: %v: %s", err, line)
		}
		if entry["msg"] == "通知処理でpanicが発生しました" {
			found = true
			if entry["level"] != "ERROR" {
				t.Errorf("level = %v, want ERROR", entry["level"])
			}
			if entry["target_id"] != "c" {
				t.Errorf("target_id = %v, want c", entry["target_id"])
			}
		}
	}
	if !found {
		t.Errorf("panicのログが出力されていない: %s", f.logs.String())
	}
}

func TestMonitor_Start_StopsOnCancel(t *testing.T) {
	f := newFixture()
	if _, err := f.coord.Request("c", "a"); err != nil {
		t.Fatalf("Request がエラーを返した: %v", err)
	}
	f.clock.Advance(time.Hour)
	f.monitor.config.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.monitor.Start(ctx)
		close(done)
	}()

	// 起動直後の1回目の実行を待つ
	deadline := time.After(2 * time.Second)
	for len(f.notifier.textsFor("c")) == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後の掃除が実行されなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しなかった")
	}
	if !strings.Contains(f.logs.String(), "セッション監視ジョブを停止しました") {
		t.Errorf("停止ログが出力されていない: %s", f.logs.String())
	}
}
