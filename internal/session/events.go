package session

import (
	"studio-backend/internal/backend"
	"studio-backend/internal/model"
	"studio-backend/pkg/logger"
)

// EventBroadcaster is implemented by broadcasters that also deliver data
// events alongside message snapshots.
type EventBroadcaster interface {
	BroadcastEvent(convID string, ev *model.DataEvent) error
}

// CollectionsUpdated reports that collections were created or removed.
func CollectionsUpdated() *model.DataEvent {
	return &model.DataEvent{EventType: EventTypeUpdateData, Update: "collections"}
}

// MediaUpdated reports a change to the media of type t in collectionID.
func MediaUpdated(collectionID string, t backend.MediaType) *model.DataEvent {
	return &model.DataEvent{
		EventType:    EventTypeUpdateData,
		Update:       string(t) + "s",
		CollectionID: collectionID,
	}
}

// EmitEvent notifies the conversation's observers. Delivery is best effort:
// failures are logged and never returned.
func (s *Session) EmitEvent(ev *model.DataEvent) {
	eb, ok := s.broadcaster.(EventBroadcaster)
	if !ok || ev == nil {
		return
	}
	if err := eb.BroadcastEvent(s.ConvID, ev); err != nil {
		logger.Warnf("Emit %s event of conversation %s: %v", ev.Update, s.ConvID, err)
	}
}
