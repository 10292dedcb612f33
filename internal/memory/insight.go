package memory

import (
	"fmt"
	"sort"
	"strings"
)

// PersonalityInsight composes a short human-readable summary of the
// owner's habits: the five most frequent triggers with their peak
// hours, followed by the three most recent highlights. It feeds the
// system prompt, so it stays compact.
func (s *Store) PersonalityInsight() string {
	s.mu.Lock()
	type ranked struct {
		trigger string
		pattern *Pattern
	}
	all := make([]ranked, 0, len(s.patterns))
	for t, p := range s.patterns {
		all = append(all, ranked{t, p})
	}
	highlights := make([]Highlight, len(s.highlights))
	copy(highlights, s.highlights)
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].pattern.Count != all[j].pattern.Count {
			return all[i].pattern.Count > all[j].pattern.Count
		}
		return all[i].trigger < all[j].trigger
	})
	if len(all) > 5 {
		all = all[:5]
	}

	var b strings.Builder
	for _, r := range all {
		peak := peakHour(r.pattern.HourCounts)
		if peak >= 0 {
			fmt.Fprintf(&b, "Your owner tends to %s (%d times, usually around %02d:00).\n", r.trigger, r.pattern.Count, peak)
		} else {
			fmt.Fprintf(&b, "Your owner tends to %s (%d times).\n", r.trigger, r.pattern.Count)
		}
	}

	if len(highlights) > 0 {
		recent := highlights
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		b.WriteString("Recent highlights: ")
		parts := make([]string, 0, len(recent))
		for _, h := range recent {
			parts = append(parts, h.Event)
		}
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(".\n")
	}

	return strings.TrimSpace(b.String())
}

// YesterdaySimilarity notes when the trigger also happened at the
// current hour yesterday. It returns "" when there is no match.
func (s *Store) YesterdaySimilarity(trigger string) string {
	now := s.clk.Now()
	yesterday := now.AddDate(0, 0, -1).Format(DateLayout)
	hour := fmt.Sprintf("%02d", now.Hour())

	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.days[yesterday]
	if day == nil {
		return ""
	}
	tally := day.Triggers[trigger]
	if tally == nil {
		return ""
	}
	for _, h := range tally.Hours {
		if h == hour {
			return fmt.Sprintf("Around this time yesterday your owner also did %q.", trigger)
		}
	}
	return ""
}

// peakHour returns the hour with the highest count, or -1 when the
// histogram is empty. Ties resolve to the earliest hour.
func peakHour(hours map[int]int) int {
	best, bestCount := -1, 0
	for h := 0; h < 24; h++ {
		if c := hours[h]; c > bestCount {
			best, bestCount = h, c
		}
	}
	return best
}
