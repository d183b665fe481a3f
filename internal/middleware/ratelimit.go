package middleware

import (
	"encoding/json"
	"fmt"
)

// RoomCounter reports room occupancy (avoids an import cycle with relay)
type RoomCounter interface {
	ConnectionCount() int
}

// RateLimit holds the relay's resource limits
type RateLimit struct {
	MaxRoomSize       int
	MaxRooms          int
	MaxMessageSize    int
	MaxPayloadDepth   int
	MaxPayloadKeys    int
	MessagesPerSecond float64
	BurstSize         int
}

// NewRateLimit: creates a new RateLimit configuration
func NewRateLimit(maxRoomSize, maxRooms, maxMessageSize, maxPayloadDepth, maxPayloadKeys int, messagesPerSecond float64, burstSize int) *RateLimit {
	return &RateLimit{
		MaxRoomSize:       maxRoomSize,
		MaxRooms:          maxRooms,
		MaxMessageSize:    maxMessageSize,
		MaxPayloadDepth:   maxPayloadDepth,
		MaxPayloadKeys:    maxPayloadKeys,
		MessagesPerSecond: messagesPerSecond,
		BurstSize:         burstSize,
	}
}

// CanJoin: checks if a room has space for one more connection
func (rl *RateLimit) CanJoin(room RoomCounter) bool {
	return room.ConnectionCount() < rl.MaxRoomSize
}

// CanCreateRoom: checks the global room limit
func (rl *RateLimit) CanCreateRoom(rooms int) bool {
	return rooms < rl.MaxRooms
}

// ValidateMessageSize: checks if a message is within the size limit
func (rl *RateLimit) ValidateMessageSize(msgSize int) bool {
	return msgSize <= rl.MaxMessageSize
}

// ValidatePayloadComplexity checks nesting depth and key count of a JSON
// payload. An array counts as its most complex element, so long paths are
// bounded by the message size only.
func (rl *RateLimit) ValidatePayloadComplexity(payload json.RawMessage) error {
	if len(payload) == 0 {
		return nil
	}

	var data interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	depth, keys := validateComplexity(data, 0)

	if depth > rl.MaxPayloadDepth {
		return fmt.Errorf("payload nesting too deep: %d levels (max %d)", depth, rl.MaxPayloadDepth)
	}

	if keys > rl.MaxPayloadKeys {
		return fmt.Errorf("payload too complex: %d keys (max %d)", keys, rl.MaxPayloadKeys)
	}

	return nil
}

// validateComplexity: recursively finds the depth and counts keys
func validateComplexity(data interface{}, currentDepth int) (int, int) {
	maxDepth := currentDepth
	keyCount := 0

	switch v := data.(type) {
	case map[string]interface{}:
		keyCount = len(v)
		for _, val := range v {
			subDepth, subKeys := validateComplexity(val, currentDepth+1)
			if subDepth > maxDepth {
				maxDepth = subDepth
			}
			keyCount += subKeys
		}
	case []interface{}:
		for _, val := range v {
			subDepth, subKeys := validateComplexity(val, currentDepth+1)
			if subDepth > maxDepth {
				maxDepth = subDepth
			}
			if subKeys > keyCount {
				keyCount = subKeys
			}
		}
	}

	return maxDepth, keyCount
}
