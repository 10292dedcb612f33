// Package engine wires the decision core together: triggers come in,
// one scheduler/selector/ledger pipeline serves both the interactive
// and the autonomous path, and behavior events go out on the bus.
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/deskmate/internal/autonomy"
	"github.com/stellarlinkco/deskmate/internal/bus"
	"github.com/stellarlinkco/deskmate/internal/cache"
	"github.com/stellarlinkco/deskmate/internal/capture"
	"github.com/stellarlinkco/deskmate/internal/clock"
	"github.com/stellarlinkco/deskmate/internal/completion"
	"github.com/stellarlinkco/deskmate/internal/config"
	"github.com/stellarlinkco/deskmate/internal/feed"
	"github.com/stellarlinkco/deskmate/internal/ledger"
	"github.com/stellarlinkco/deskmate/internal/memory"
	"github.com/stellarlinkco/deskmate/internal/models"
	"github.com/stellarlinkco/deskmate/internal/scheduler"
	"github.com/stellarlinkco/deskmate/internal/store"
	"github.com/stellarlinkco/deskmate/internal/validator"
)

const (
	// snapshotProb is how often an autonomous tick asks for a screen
	// snapshot before thinking.
	snapshotProb = 0.7
	// observeMaxTokens is the reduced budget for autonomous observation
	// requests.
	observeMaxTokens = 256

	observeTrigger = "observe"
)

// triggerClass maps a trigger type to its scheduling weight. Unknown
// triggers get the medium defaults.
type triggerClass struct {
	priority   scheduler.Priority
	importance models.Importance
}

var triggerClasses = map[string]triggerClass{
	"chat":   {scheduler.PriorityHigh, models.ImportanceHigh},
	"pet":    {scheduler.PriorityMedium, models.ImportanceMedium},
	"feed":   {scheduler.PriorityMedium, models.ImportanceMedium},
	"play":   {scheduler.PriorityMedium, models.ImportanceMedium},
	"drag":   {scheduler.PriorityMedium, models.ImportanceLow},
	"ignore": {scheduler.PriorityLow, models.ImportanceLow},
}

// Options carries test injection points. Zero values mean production
// defaults.
type Options struct {
	Completer  completion.Client
	Capturer   capture.Capturer
	Clock      clock.Clock
	SignalChan chan os.Signal
	// SnapshotRoll substitutes the random source deciding whether a
	// tick captures the screen.
	SnapshotRoll func() float64
}

type Engine struct {
	cfg *config.Config
	clk clock.Clock

	bus      *bus.Bus
	kv       *store.Store
	mem      *memory.Store
	journal  *memory.Journal
	ledger   *ledger.Ledger
	selector *models.Selector
	cache    *cache.Cache
	sched    *scheduler.Scheduler

	completer completion.Client
	capturer  capture.Capturer
	auto      *autonomy.Scheduler
	feed      *feed.Server
	cron      *rcron.Cron

	signalChan   chan os.Signal
	snapshotRoll func() float64
}

func New(cfg *config.Config) (*Engine, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Engine, error) {
	e := &Engine{cfg: cfg}

	e.clk = opts.Clock
	if e.clk == nil {
		e.clk = clock.Real{}
	}
	e.snapshotRoll = opts.SnapshotRoll
	if e.snapshotRoll == nil {
		e.snapshotRoll = rand.Float64
	}

	e.bus = bus.New(config.DefaultBusBufSize)

	dataDir := filepath.Join(config.ConfigDir(), "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	kv, err := store.Open(filepath.Join(dataDir, "memory.json"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.kv = kv

	mem, err := memory.Open(kv, e.clk)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	e.mem = mem

	journalPath := strings.TrimSpace(cfg.Memory.JournalPath)
	if journalPath == "" {
		journalPath = filepath.Join(dataDir, "journal.db")
	}
	journal, err := memory.OpenJournal(journalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	e.journal = journal

	prices := map[string]ledger.Pricing{
		cfg.Models.Cheap.Name:   {In: cfg.Models.Cheap.PriceIn, Out: cfg.Models.Cheap.PriceOut},
		cfg.Models.Premium.Name: {In: cfg.Models.Premium.PriceIn, Out: cfg.Models.Premium.PriceOut},
	}
	lgr, err := ledger.New(kv, cfg.Budget.Limit, cfg.Budget.Reserve, prices)
	if err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	e.ledger = lgr

	e.selector = models.NewSelector(cfg.Models.Cheap.Name, cfg.Models.Premium.Name)
	e.cache = cache.New(e.clk)

	e.completer = opts.Completer
	if e.completer == nil {
		e.completer = completion.NewHTTPClient(cfg.Provider.APIKey, cfg.Provider.BaseURL)
	}
	e.sched = scheduler.New(e.completer, e.selector, e.ledger, e.ledger)

	e.capturer = opts.Capturer
	if e.capturer == nil {
		e.capturer = capture.Disabled{}
	}

	e.auto = autonomy.New(e.clk, e, cfg.Autonomy.Enabled)

	if cfg.Feed.Enabled {
		e.feed = feed.New(cfg.Feed.Host, cfg.Feed.Port, e.bus.Events)
	}

	e.cron = rcron.New(rcron.WithSeconds())
	if _, err := e.cron.AddFunc("@every 30m", e.periodicSave); err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("register periodic save: %w", err)
	}
	if _, err := e.cron.AddFunc("0 0 3 * * *", e.dailyDigest); err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("register daily digest: %w", err)
	}

	e.signalChan = opts.SignalChan

	return e, nil
}

// HandleTrigger runs the interactive path: mood update, cache check,
// scheduled completion, validation, dedup, memory record and event
// emission. Errors propagate to the caller.
func (e *Engine) HandleTrigger(ctx context.Context, trigger, text string) (*validator.Decision, error) {
	if c, ok := e.completer.(interface{ Configured() bool }); ok && !c.Configured() {
		return nil, completion.ErrNoAPIKey
	}

	if err := e.mem.UpdateMood(trigger); err != nil {
		log.Printf("[engine] mood update warning: %v", err)
	}

	cacheKey := trigger + "\x00" + text
	if raw, ok := e.cache.Get(cacheKey); ok {
		log.Printf("[engine] cache hit for trigger %q", trigger)
		d := validator.Parse(raw)
		validator.Dedup(d, e.mem.RecentSpeech())
		e.deliver(trigger, d, "", 0)
		return d, nil
	}

	class, ok := triggerClasses[trigger]
	if !ok {
		class = triggerClass{scheduler.PriorityMedium, models.ImportanceMedium}
	}

	fut := e.sched.Enqueue(scheduler.Request{
		System:     e.buildSystemPrompt(),
		Messages:   []completion.Message{{Role: "user", Content: e.buildUserMessage(trigger, text)}},
		Priority:   class.priority,
		Importance: class.importance,
		MaxTokens:  e.cfg.Agent.MaxTokens,
		Override:   models.Override(e.cfg.Models.Override),
	})

	res, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}

	e.cache.Put(cacheKey, res.Text)

	d := validator.Parse(res.Text)
	validator.Dedup(d, e.mem.RecentSpeech())
	e.deliver(trigger, d, res.Model, res.Cost)
	return d, nil
}

// AutonomousTick is the background observation path. Everything here
// fails soft: the autonomy loop must keep rescheduling.
func (e *Engine) AutonomousTick(ctx context.Context) error {
	var image string
	if e.cfg.Autonomy.Snapshot && e.snapshotRoll() < snapshotProb {
		snap, err := e.capturer.Capture(ctx)
		if err != nil {
			log.Printf("[engine] snapshot unavailable: %v", err)
		} else if snap != nil {
			image = snap.B64
		}
	}

	fut := e.sched.Enqueue(scheduler.Request{
		System:      e.buildSystemPrompt(),
		Messages:    []completion.Message{{Role: "user", Content: e.buildObserveMessage()}},
		Priority:    scheduler.PriorityLow,
		Importance:  models.ImportanceLow,
		WantsVision: image != "",
		MaxTokens:   observeMaxTokens,
		Override:    models.Override(e.cfg.Models.Override),
		ImageB64:    image,
	})

	res, err := fut.Wait(ctx)
	if err != nil {
		return fmt.Errorf("observation request: %w", err)
	}

	d := validator.Parse(res.Text)
	validator.Dedup(d, e.mem.RecentSpeech())
	if d.Empty() {
		return nil
	}

	if err := e.mem.UpdateMood(observeTrigger); err != nil {
		log.Printf("[engine] mood update warning: %v", err)
	}
	e.deliver(observeTrigger, d, res.Model, res.Cost)
	return nil
}

// deliver records the interaction, emits behavior events and writes a
// journal row. Model is empty for cache replays, which cost nothing and
// leave no journal row.
func (e *Engine) deliver(trigger string, d *validator.Decision, model string, cost float64) {
	resp := memory.Response{}
	if d != nil {
		resp = memory.Response{Speech: d.Speech, Action: d.Action, Emotion: d.Emotion}
	}
	if err := e.mem.RecordInteraction(trigger, resp); err != nil {
		log.Printf("[engine] record interaction warning: %v", err)
	}

	now := e.clk.Now()
	if resp.Speech != "" {
		e.bus.Publish(bus.Speak(resp.Speech, now))
	}
	if resp.Action != "" {
		e.bus.Publish(bus.Action(resp.Action, now))
	}
	if resp.Emotion != "" {
		e.bus.Publish(bus.Emote(resp.Emotion, now))
	}

	if model == "" {
		return
	}
	err := e.journal.Record(memory.JournalEntry{
		Date:    now.Format(memory.DateLayout),
		Trigger: trigger,
		Speech:  resp.Speech,
		Action:  resp.Action,
		Emotion: resp.Emotion,
		Model:   model,
		Cost:    cost,
	})
	if err != nil {
		log.Printf("[engine] journal warning: %v", err)
	}
}

const persona = `You are a small desk companion living on your owner's screen.
You are curious, playful and a little cheeky. You react to what your
owner does and sometimes comment on what you see.

Always answer with exactly one JSON object, nothing else:
{"speech": "...", "action": "...", "emotion": "..."}
speech: one short line, at most 50 characters, or null to stay quiet.
action: one of idle, walk, run, jump, sit, sleep, dance, wave, stretch, or null.
emotion: one of happy, excited, curious, sleepy, bored, lonely, love, surprised, neutral, or null.`

func (e *Engine) buildSystemPrompt() string {
	var sb strings.Builder

	if data, err := os.ReadFile(filepath.Join(e.cfg.Agent.Workspace, "SOUL.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString(persona)
		sb.WriteString("\n\n")
	}

	mood := e.mem.Mood()
	fmt.Fprintf(&sb, "Current mood: %s (momentum %.2f)\n", mood.Label, mood.Momentum)

	if insight := e.mem.PersonalityInsight(); insight != "" {
		sb.WriteString("\nWhat you know about your owner:\n")
		sb.WriteString(insight)
		sb.WriteString("\n")
	}

	return sb.String()
}

func (e *Engine) buildUserMessage(trigger, text string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your owner just did: %s.", trigger)
	if text != "" {
		fmt.Fprintf(&sb, " They said: %q.", text)
	}
	if note := e.mem.YesterdaySimilarity(trigger); note != "" {
		sb.WriteString(" ")
		sb.WriteString(note)
	}
	sb.WriteString(" React.")
	return sb.String()
}

func (e *Engine) buildObserveMessage() string {
	var sb strings.Builder
	sb.WriteString("Nothing happened for a while. Look around and decide whether to do something.")

	if recent := e.mem.RecentInteractions(3); len(recent) > 0 {
		sb.WriteString(" Recently:")
		for _, it := range recent {
			fmt.Fprintf(&sb, " %s at %s;", it.Trigger, it.Timestamp.Format("15:04"))
		}
	}
	sb.WriteString(" Staying quiet is fine: answer nulls if there is nothing worth doing.")
	return sb.String()
}

func (e *Engine) periodicSave() {
	if err := e.mem.PeriodicSave(); err != nil {
		log.Printf("[engine] periodic save warning: %v", err)
	}
}

// dailyDigest folds yesterday's journal rows into one highlight.
func (e *Engine) dailyDigest() {
	date := e.clk.Now().AddDate(0, 0, -1).Format(memory.DateLayout)
	entries, err := e.journal.Day(date)
	if err != nil {
		log.Printf("[engine] daily digest warning: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	counts := map[string]int{}
	top := ""
	for _, en := range entries {
		counts[en.Trigger]++
		if top == "" || counts[en.Trigger] > counts[top] {
			top = en.Trigger
		}
	}

	summary := fmt.Sprintf("%s: %d interactions, mostly %s", date, len(entries), top)
	if err := e.mem.AddHighlight(summary, "daily digest"); err != nil {
		log.Printf("[engine] daily digest warning: %v", err)
	}
}

// AttachController hands control to an external driver; autonomy stops
// immediately and its pending timer is cleared.
func (e *Engine) AttachController() {
	e.auto.AttachController()
	log.Printf("[engine] controller attached, autonomy paused")
}

func (e *Engine) DetachController() {
	e.auto.DetachController()
	log.Printf("[engine] controller detached")
}

// Active reports whether the engine currently drives itself.
func (e *Engine) Active() bool {
	return e.auto.Active()
}

// Ledger exposes the cost ledger for status reporting.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Journal exposes the interaction journal for status reporting.
func (e *Engine) Journal() *memory.Journal { return e.journal }

// Run starts the background services and blocks until a shutdown
// signal arrives.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.feed != nil {
		if err := e.feed.Start(ctx); err != nil {
			return fmt.Errorf("start feed: %w", err)
		}
	}

	e.cron.Start()
	e.auto.Start()

	log.Printf("[engine] running, autonomy enabled=%v", e.cfg.Autonomy.Enabled)

	sigCh := e.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[engine] shutting down...")
	return e.Shutdown()
}

func (e *Engine) Shutdown() error {
	e.auto.Stop()
	e.cron.Stop()
	if e.feed != nil {
		_ = e.feed.Stop()
	}
	if err := e.mem.PeriodicSave(); err != nil {
		log.Printf("[engine] final save warning: %v", err)
	}
	if err := e.journal.Close(); err != nil {
		log.Printf("[engine] close journal warning: %v", err)
	}
	log.Printf("[engine] shutdown complete")
	return nil
}
