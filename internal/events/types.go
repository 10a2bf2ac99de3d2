// Package events provides the in-process fan-out bus and the typed event
// envelope published to UI clients.
package events

import (
	"encoding/json"
)

// Type is the camel-cased discriminant of the event envelope.
type Type string

const (
	TypeBoardCreated Type = "BoardCreated"
	TypeBoardUpdated Type = "BoardUpdated"
	TypeBoardDeleted Type = "BoardDeleted"

	TypeCardCreated Type = "CardCreated"
	TypeCardUpdated Type = "CardUpdated"
	TypeCardMoved   Type = "CardMoved"
	TypeCardDeleted Type = "CardDeleted"

	TypeSubtaskCreated Type = "SubtaskCreated"
	TypeSubtaskUpdated Type = "SubtaskUpdated"
	TypeSubtaskDeleted Type = "SubtaskDeleted"

	TypeCommentCreated Type = "CommentCreated"
	TypeCommentUpdated Type = "CommentUpdated"
	TypeCommentDeleted Type = "CommentDeleted"

	TypeLabelAdded   Type = "LabelAdded"
	TypeLabelRemoved Type = "LabelRemoved"

	TypeAiStatusChanged Type = "AiStatusChanged"
	TypeAgentLogCreated Type = "AgentLogCreated"

	TypeQuestionCreated  Type = "QuestionCreated"
	TypeQuestionAnswered Type = "QuestionAnswered"

	TypeNotificationCreated Type = "NotificationCreated"
)

// Event is one published message: a type tag, the owning card (when
// card-scoped) for targeted subscribers, and the pre-serialized JSON
// envelope handed to clients verbatim.
type Event struct {
	Type   Type
	CardID string
	Data   []byte
}

// New builds an event, serializing the envelope as {"type": ..., fields...}.
func New(t Type, cardID string, fields map[string]any) Event {
	envelope := map[string]any{"type": string(t)}
	for k, v := range fields {
		envelope[k] = v
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		// Fields are built from entity structs; a marshal failure here is a
		// programming error. Fall back to the bare type tag.
		data = []byte(`{"type":"` + string(t) + `"}`)
	}
	return Event{Type: t, CardID: cardID, Data: data}
}

// CardMoved builds the stage-transition event.
func CardMoved(cardID, fromStage, toStage string) Event {
	return New(TypeCardMoved, cardID, map[string]any{
		"card_id":    cardID,
		"from_stage": fromStage,
		"to_stage":   toStage,
	})
}

// AiStatusChanged builds the agent-status event.
func AiStatusChanged(cardID, status string, progress json.RawMessage, stage string, sessionID *string) Event {
	if len(progress) == 0 {
		progress = json.RawMessage("{}")
	}
	return New(TypeAiStatusChanged, cardID, map[string]any{
		"card_id":       cardID,
		"status":        status,
		"progress":      progress,
		"stage":         stage,
		"ai_session_id": sessionID,
	})
}

// AgentLogCreated builds the per-card log event.
func AgentLogCreated(cardID string, log any) Event {
	return New(TypeAgentLogCreated, cardID, map[string]any{
		"card_id": cardID,
		"log":     log,
	})
}
