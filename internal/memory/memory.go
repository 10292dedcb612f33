// Package memory layers the companion's state: bounded short-term ring
// buffers for recent interactions and speech, plus long-term patterns,
// highlights, daily logs and mood persisted through the injected store.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stellarlinkco/deskmate/internal/clock"
	"github.com/stellarlinkco/deskmate/internal/store"
)

const (
	MaxInteractions = 20
	MaxRecentSpeech = 10
	MaxHighlights   = 50
	MaxDailyLogDays = 7
	// SaveInterval is how often ephemeral daily tallies fold into the
	// durable daily log.
	SaveInterval = 30 * time.Minute

	DateLayout = "2006-01-02"
)

const (
	patternsKey   = "memory.patterns"
	highlightsKey = "memory.highlights"
	daysKey       = "memory.days"
	moodKey       = "memory.mood"
)

type Response struct {
	Speech  string `json:"speech,omitempty"`
	Action  string `json:"action,omitempty"`
	Emotion string `json:"emotion,omitempty"`
}

type Interaction struct {
	Trigger   string    `json:"trigger"`
	Response  Response  `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Pattern accumulates how often a trigger fires and at which hours.
// Patterns only ever grow; nothing deletes them.
type Pattern struct {
	Count      int         `json:"count"`
	LastSeen   time.Time   `json:"lastSeen"`
	HourCounts map[int]int `json:"hourCounts"`
}

type Highlight struct {
	Event        string    `json:"event"`
	Significance string    `json:"significance"`
	Timestamp    time.Time `json:"timestamp"`
	Date         string    `json:"date"`
}

type TriggerTally struct {
	Count int      `json:"count"`
	Hours []string `json:"hours"`
}

type DayLog struct {
	Triggers    map[string]*TriggerTally `json:"triggers"`
	ActiveHours []string                 `json:"activeHours"`
}

type Mood struct {
	Label    string  `json:"label"`
	Momentum float64 `json:"momentum"`
}

type moodEffect struct {
	label string
	delta float64
}

// moodEffects maps trigger types to their emotional consequence.
// Unknown triggers leave mood untouched.
var moodEffects = map[string]moodEffect{
	"pet":     {"happy", 0.15},
	"feed":    {"excited", 0.20},
	"play":    {"excited", 0.25},
	"chat":    {"curious", 0.10},
	"drag":    {"surprised", -0.05},
	"ignore":  {"lonely", -0.15},
	"observe": {"curious", 0.05},
}

type Store struct {
	mu  sync.Mutex
	kv  *store.Store
	clk clock.Clock

	interactions []Interaction
	recentSpeech []string
	patterns     map[string]*Pattern
	highlights   []Highlight
	days         map[string]*DayLog
	mood         Mood
	// today holds trigger tallies since the last periodic save; it is
	// the only ephemeral counter that later becomes durable.
	today map[string]*TriggerTally
}

func Open(kv *store.Store, clk clock.Clock) (*Store, error) {
	s := &Store{
		kv:       kv,
		clk:      clk,
		patterns: make(map[string]*Pattern),
		days:     make(map[string]*DayLog),
		today:    make(map[string]*TriggerTally),
		mood:     Mood{Label: "neutral", Momentum: 0.5},
	}

	if _, err := kv.Get(patternsKey, &s.patterns); err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	if _, err := kv.Get(highlightsKey, &s.highlights); err != nil {
		return nil, fmt.Errorf("load highlights: %w", err)
	}
	if _, err := kv.Get(daysKey, &s.days); err != nil {
		return nil, fmt.Errorf("load daily logs: %w", err)
	}
	if _, err := kv.Get(moodKey, &s.mood); err != nil {
		return nil, fmt.Errorf("load mood: %w", err)
	}
	return s, nil
}

// RecordInteraction appends to the short-term buffers, tallies today's
// trigger, and updates the trigger's long-term pattern. The pattern
// write is persisted synchronously.
func (s *Store) RecordInteraction(trigger string, resp Response) error {
	now := s.clk.Now()

	s.mu.Lock()
	s.interactions = append(s.interactions, Interaction{
		Trigger:   trigger,
		Response:  resp,
		Timestamp: now,
	})
	if len(s.interactions) > MaxInteractions {
		s.interactions = s.interactions[len(s.interactions)-MaxInteractions:]
	}

	if resp.Speech != "" {
		s.recentSpeech = append(s.recentSpeech, resp.Speech)
		if len(s.recentSpeech) > MaxRecentSpeech {
			s.recentSpeech = s.recentSpeech[len(s.recentSpeech)-MaxRecentSpeech:]
		}
	}

	hour := fmt.Sprintf("%02d", now.Hour())
	tally := s.today[trigger]
	if tally == nil {
		tally = &TriggerTally{}
		s.today[trigger] = tally
	}
	tally.Count++
	tally.Hours = appendUnique(tally.Hours, hour)

	p := s.patterns[trigger]
	if p == nil {
		p = &Pattern{HourCounts: make(map[int]int)}
		s.patterns[trigger] = p
	}
	p.Count++
	p.LastSeen = now
	if p.HourCounts == nil {
		p.HourCounts = make(map[int]int)
	}
	p.HourCounts[now.Hour()]++
	s.mu.Unlock()

	if err := s.kv.Set(patternsKey, s.snapshotPatterns()); err != nil {
		return fmt.Errorf("persist patterns: %w", err)
	}
	return nil
}

// UpdateMood applies the trigger's mood effect, clamping momentum to
// [0,1]. Triggers without an effect are ignored.
func (s *Store) UpdateMood(trigger string) error {
	effect, ok := moodEffects[trigger]
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.mood.Label = effect.label
	s.mood.Momentum += effect.delta
	if s.mood.Momentum > 1 {
		s.mood.Momentum = 1
	}
	if s.mood.Momentum < 0 {
		s.mood.Momentum = 0
	}
	mood := s.mood
	s.mu.Unlock()

	if err := s.kv.Set(moodKey, mood); err != nil {
		return fmt.Errorf("persist mood: %w", err)
	}
	return nil
}

func (s *Store) Mood() Mood {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mood
}

// RecentInteractions returns up to n interactions, newest last.
func (s *Store) RecentInteractions(n int) []Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.interactions) {
		n = len(s.interactions)
	}
	out := make([]Interaction, n)
	copy(out, s.interactions[len(s.interactions)-n:])
	return out
}

// RecentSpeech returns the dedup ring, oldest first.
func (s *Store) RecentSpeech() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.recentSpeech))
	copy(out, s.recentSpeech)
	return out
}

// AddHighlight records a memorable event, trimming the oldest past the
// cap, and persists the list.
func (s *Store) AddHighlight(event, significance string) error {
	now := s.clk.Now()

	s.mu.Lock()
	s.highlights = append(s.highlights, Highlight{
		Event:        event,
		Significance: significance,
		Timestamp:    now,
		Date:         now.Format(DateLayout),
	})
	if len(s.highlights) > MaxHighlights {
		s.highlights = s.highlights[len(s.highlights)-MaxHighlights:]
	}
	snapshot := make([]Highlight, len(s.highlights))
	copy(snapshot, s.highlights)
	s.mu.Unlock()

	if err := s.kv.Set(highlightsKey, snapshot); err != nil {
		return fmt.Errorf("persist highlights: %w", err)
	}
	return nil
}

func (s *Store) Highlights() []Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Highlight, len(s.highlights))
	copy(out, s.highlights)
	return out
}

// PeriodicSave folds today's tallies into the durable daily log, trims
// the log to the most recent MaxDailyLogDays dates, and resets the
// tallies. It is the sole point where ephemeral counters become
// durable aggregates.
func (s *Store) PeriodicSave() error {
	date := s.clk.Now().Format(DateLayout)

	s.mu.Lock()
	day := s.days[date]
	if day == nil {
		day = &DayLog{Triggers: make(map[string]*TriggerTally)}
		s.days[date] = day
	}
	if day.Triggers == nil {
		day.Triggers = make(map[string]*TriggerTally)
	}
	for trigger, tally := range s.today {
		agg := day.Triggers[trigger]
		if agg == nil {
			agg = &TriggerTally{}
			day.Triggers[trigger] = agg
		}
		agg.Count += tally.Count
		for _, h := range tally.Hours {
			agg.Hours = appendUnique(agg.Hours, h)
			day.ActiveHours = appendUnique(day.ActiveHours, h)
		}
	}
	s.trimDaysLocked()
	s.today = make(map[string]*TriggerTally)
	snapshot := s.snapshotDaysLocked()
	s.mu.Unlock()

	if err := s.kv.Set(daysKey, snapshot); err != nil {
		return fmt.Errorf("persist daily logs: %w", err)
	}
	return nil
}

// DayLogDates returns the retained dates, newest first.
func (s *Store) DayLogDates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedDatesDesc(s.days)
}

func (s *Store) trimDaysLocked() {
	dates := sortedDatesDesc(s.days)
	for i, d := range dates {
		if i >= MaxDailyLogDays {
			delete(s.days, d)
		}
	}
}

func (s *Store) snapshotDaysLocked() map[string]*DayLog {
	out := make(map[string]*DayLog, len(s.days))
	for k, v := range s.days {
		out[k] = v
	}
	return out
}

func (s *Store) snapshotPatterns() map[string]*Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Pattern, len(s.patterns))
	for k, v := range s.patterns {
		out[k] = v
	}
	return out
}

func sortedDatesDesc(days map[string]*DayLog) []string {
	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	// ISO dates order lexicographically.
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
