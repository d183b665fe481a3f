package handlers

import (
	"encoding/json"
	"fmt"

	"classboard/internal/broadcast"
	"classboard/internal/object"
)

// ObjectHandler validates and sanitizes object payloads before they are
// relayed, so a misbehaving client cannot push malformed objects to others
type ObjectHandler struct {
	validator *object.Validator
}

func NewObjectHandler(validator *object.Validator) *ObjectHandler {
	return &ObjectHandler{validator: validator}
}

// SanitizeObject: payload must be a full object; returns the sanitized form
func (h *ObjectHandler) SanitizeObject(msg broadcast.Message) (broadcast.Message, error) {
	obj, err := h.validator.Decode(msg.Payload)
	if err != nil {
		return msg, fmt.Errorf("object validation failed: %w", err)
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return msg, fmt.Errorf("marshal object: %w", err)
	}
	msg.Payload = payload
	return msg, nil
}

// SanitizeRemoved: payload must be {"id"}
func (h *ObjectHandler) SanitizeRemoved(msg broadcast.Message) (broadcast.Message, error) {
	var removed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(msg.Payload, &removed); err != nil {
		return msg, fmt.Errorf("invalid removal payload: %w", err)
	}
	if removed.ID == "" {
		return msg, fmt.Errorf("missing object id")
	}

	removed.ID = object.SanitizeString(removed.ID)
	payload, err := json.Marshal(removed)
	if err != nil {
		return msg, fmt.Errorf("marshal removal: %w", err)
	}
	msg.Payload = payload
	return msg, nil
}
