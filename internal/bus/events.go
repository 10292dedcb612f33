package bus

import "time"

type EventType string

const (
	EventSpeak  EventType = "speak"
	EventAction EventType = "action"
	EventEmote  EventType = "emote"
)

// BehaviorEvent is an outbound notification to the presentation layer.
// Events are fire-and-forget: the engine never waits for delivery.
type BehaviorEvent struct {
	Type      EventType `json:"type"`
	Text      string    `json:"text,omitempty"`    // speak
	State     string    `json:"state,omitempty"`   // action
	Emotion   string    `json:"emotion,omitempty"` // emote
	Timestamp time.Time `json:"timestamp"`
}

func Speak(text string, now time.Time) BehaviorEvent {
	return BehaviorEvent{Type: EventSpeak, Text: text, Timestamp: now}
}

func Action(state string, now time.Time) BehaviorEvent {
	return BehaviorEvent{Type: EventAction, State: state, Timestamp: now}
}

func Emote(emotion string, now time.Time) BehaviorEvent {
	return BehaviorEvent{Type: EventEmote, Emotion: emotion, Timestamp: now}
}
