package handlers

import (
	"net/http"
)

// RoomCounter reports how many relay rooms are open
type RoomCounter interface {
	RoomCount() int
}

// Health: GET /healthz
func Health(rooms RoomCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		JSONResponse(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"rooms":  rooms.RoomCount(),
		})
	}
}
