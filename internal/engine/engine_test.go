package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stellarlinkco/deskmate/internal/bus"
	"github.com/stellarlinkco/deskmate/internal/capture"
	"github.com/stellarlinkco/deskmate/internal/completion"
	"github.com/stellarlinkco/deskmate/internal/config"
)

type fakeCompleter struct {
	mu       sync.Mutex
	requests []completion.Request
	reply    string
	err      error
}

func (f *fakeCompleter) Complete(_ context.Context, req completion.Request) (*completion.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &completion.Result{Text: f.reply, InputTokens: 100, OutputTokens: 20}, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCompleter) lastRequest() completion.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Feed.Enabled = false
	cfg.Autonomy.Enabled = false
	cfg.Autonomy.Snapshot = false
	return cfg
}

func newTestEngine(t *testing.T, fake *fakeCompleter) *Engine {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	e, err := NewWithOptions(testConfig(), Options{Completer: fake})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func drainEvents(e *Engine) []bus.BehaviorEvent {
	var events []bus.BehaviorEvent
	for {
		select {
		case ev := <-e.bus.Events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestHandleTrigger_RecordsAndEmits(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":"hi there!","action":"wave","emotion":"happy"}`}
	e := newTestEngine(t, fake)

	d, err := e.HandleTrigger(context.Background(), "pet", "")
	if err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if d.Speech != "hi there!" {
		t.Errorf("speech = %q, want %q", d.Speech, "hi there!")
	}
	if d.Action != "wave" || d.Emotion != "happy" {
		t.Errorf("action/emotion = %q/%q, want wave/happy", d.Action, d.Emotion)
	}

	if spent := e.Ledger().Spent(); spent <= 0 {
		t.Errorf("ledger spent = %v, want > 0", spent)
	}

	recent := e.mem.RecentInteractions(5)
	if len(recent) != 1 {
		t.Fatalf("recent interactions = %d, want 1", len(recent))
	}
	if recent[0].Trigger != "pet" {
		t.Errorf("trigger = %q, want %q", recent[0].Trigger, "pet")
	}

	events := drainEvents(e)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3 (speak, action, emote)", len(events))
	}
	if events[0].Type != bus.EventSpeak || events[0].Text != "hi there!" {
		t.Errorf("first event = %+v, want speak %q", events[0], "hi there!")
	}
}

func TestHandleTrigger_TriggerClassPicksModelTier(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":null,"action":null,"emotion":null}`}
	e := newTestEngine(t, fake)

	// Chat is high importance and selects the premium model; pet is
	// medium and stays on the cheap one.
	if _, err := e.HandleTrigger(context.Background(), "chat", "hello"); err != nil {
		t.Fatal(err)
	}
	if got := fake.lastRequest().Model; got != e.cfg.Models.Premium.Name {
		t.Errorf("chat model = %q, want %q", got, e.cfg.Models.Premium.Name)
	}

	if _, err := e.HandleTrigger(context.Background(), "pet", ""); err != nil {
		t.Fatal(err)
	}
	if got := fake.lastRequest().Model; got != e.cfg.Models.Cheap.Name {
		t.Errorf("pet model = %q, want %q", got, e.cfg.Models.Cheap.Name)
	}
}

func TestHandleTrigger_MoodShifts(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":"yum","action":null,"emotion":"excited"}`}
	e := newTestEngine(t, fake)

	before := e.mem.Mood()
	if _, err := e.HandleTrigger(context.Background(), "feed", ""); err != nil {
		t.Fatal(err)
	}
	after := e.mem.Mood()
	if after.Label != "excited" {
		t.Errorf("mood label = %q, want %q", after.Label, "excited")
	}
	if after.Momentum <= before.Momentum {
		t.Errorf("momentum = %v, want > %v", after.Momentum, before.Momentum)
	}
}

func TestHandleTrigger_CacheReplaySkipsModel(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":"hello again","action":"sit","emotion":"neutral"}`}
	e := newTestEngine(t, fake)

	if _, err := e.HandleTrigger(context.Background(), "chat", "how are you"); err != nil {
		t.Fatal(err)
	}
	if fake.calls() != 1 {
		t.Fatalf("calls = %d, want 1", fake.calls())
	}

	d, err := e.HandleTrigger(context.Background(), "chat", "how are you")
	if err != nil {
		t.Fatal(err)
	}
	if fake.calls() != 1 {
		t.Errorf("calls = %d, replay must not hit the model", fake.calls())
	}
	// The replayed speech is an exact repeat of what was just said, so
	// dedup suppresses it; the action still stands.
	if d.Speech != "" {
		t.Errorf("replayed speech = %q, want suppressed", d.Speech)
	}
	if d.Action != "sit" {
		t.Errorf("replayed action = %q, want %q", d.Action, "sit")
	}
}

func TestHandleTrigger_DistinctTextMissesCache(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":null,"action":"idle","emotion":null}`}
	e := newTestEngine(t, fake)

	if _, err := e.HandleTrigger(context.Background(), "chat", "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleTrigger(context.Background(), "chat", "two"); err != nil {
		t.Fatal(err)
	}
	if fake.calls() != 2 {
		t.Errorf("calls = %d, want 2", fake.calls())
	}
}

func TestHandleTrigger_NoAPIKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DESKMATE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	e, err := NewWithOptions(testConfig(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if _, err := e.HandleTrigger(context.Background(), "pet", ""); !errors.Is(err, completion.ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestHandleTrigger_CompletionErrorPropagates(t *testing.T) {
	fake := &fakeCompleter{err: errors.New("upstream down")}
	e := newTestEngine(t, fake)

	if _, err := e.HandleTrigger(context.Background(), "pet", ""); err == nil {
		t.Error("want error from failed completion")
	}
}

func TestAutonomousTick_QuietResultRecordsNothing(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":null,"action":null,"emotion":null}`}
	e := newTestEngine(t, fake)

	if err := e.AutonomousTick(context.Background()); err != nil {
		t.Fatalf("AutonomousTick: %v", err)
	}
	if n := len(e.mem.RecentInteractions(5)); n != 0 {
		t.Errorf("recent interactions = %d, quiet tick must not record", n)
	}
	if events := drainEvents(e); len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestAutonomousTick_SpeechRecordsAndEmits(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":"you work too much","action":null,"emotion":"curious"}`}
	e := newTestEngine(t, fake)

	if err := e.AutonomousTick(context.Background()); err != nil {
		t.Fatalf("AutonomousTick: %v", err)
	}

	recent := e.mem.RecentInteractions(5)
	if len(recent) != 1 || recent[0].Trigger != "observe" {
		t.Fatalf("recent = %+v, want one observe interaction", recent)
	}
	events := drainEvents(e)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (speak, emote)", len(events))
	}
}

func TestAutonomousTick_AttachesSnapshot(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":null,"action":null,"emotion":null}`}
	t.Setenv("HOME", t.TempDir())

	cfg := testConfig()
	cfg.Autonomy.Snapshot = true
	e, err := NewWithOptions(cfg, Options{
		Completer: fake,
		Capturer: capture.Func(func(context.Context) (*capture.Snapshot, error) {
			return &capture.Snapshot{B64: "aGVsbG8=", Width: 1920, Height: 1080}, nil
		}),
		SnapshotRoll: func() float64 { return 0.0 },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if err := e.AutonomousTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := fake.lastRequest().ImageB64; got != "aGVsbG8=" {
		t.Errorf("image = %q, want snapshot attached", got)
	}
}

func TestAutonomousTick_SnapshotFailureProceeds(t *testing.T) {
	fake := &fakeCompleter{reply: `{"speech":null,"action":null,"emotion":null}`}
	t.Setenv("HOME", t.TempDir())

	cfg := testConfig()
	cfg.Autonomy.Snapshot = true
	e, err := NewWithOptions(cfg, Options{
		Completer:    fake,
		Capturer:     capture.Disabled{},
		SnapshotRoll: func() float64 { return 0.0 },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if err := e.AutonomousTick(context.Background()); err != nil {
		t.Fatalf("AutonomousTick: %v", err)
	}
	if got := fake.lastRequest().ImageB64; got != "" {
		t.Errorf("image = %q, want none", got)
	}
}

func TestAutonomousTick_CompletionErrorReturns(t *testing.T) {
	fake := &fakeCompleter{err: errors.New("upstream down")}
	e := newTestEngine(t, fake)

	if err := e.AutonomousTick(context.Background()); err == nil {
		t.Error("want error so the autonomy loop can log it")
	}
}

func TestControllerAttachDetach(t *testing.T) {
	fake := &fakeCompleter{reply: `{}`}
	t.Setenv("HOME", t.TempDir())

	cfg := testConfig()
	cfg.Autonomy.Enabled = true
	e, err := NewWithOptions(cfg, Options{Completer: fake})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if !e.Active() {
		t.Fatal("engine should be active before a controller attaches")
	}
	e.AttachController()
	if e.Active() {
		t.Error("engine should not be active with a controller attached")
	}
	e.DetachController()
	if !e.Active() {
		t.Error("engine should be active again after detach")
	}
}

func TestRun_ShutsDownOnSignal(t *testing.T) {
	fake := &fakeCompleter{reply: `{}`}
	t.Setenv("HOME", t.TempDir())

	sigCh := make(chan os.Signal, 1)
	e, err := NewWithOptions(testConfig(), Options{Completer: fake, SignalChan: sigCh})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after signal")
	}
}
