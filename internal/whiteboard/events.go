package whiteboard

// Sync event names carried in broadcast.Message.Event.
const (
	EventObjectAdded          = "object_added"
	EventObjectModified       = "object_modified"
	EventObjectRemoved        = "object_removed"
	EventPathCreated          = "path_created"
	EventCollaborationToggled = "collaboration_toggled"
	EventCanvasCleared        = "canvas_cleared"
)

type removedPayload struct {
	ID string `json:"id"`
}

type collaborationPayload struct {
	Enabled bool `json:"enabled"`
}

type clearedPayload struct{}
