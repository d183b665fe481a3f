package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"classboard/internal/snapshot"
)

const maxSnapshotBody = 16 << 20

// SnapshotHandler serves the persisted whiteboard snapshots
type SnapshotHandler struct {
	store snapshot.Store
	log   *logrus.Entry
}

func NewSnapshotHandler(store snapshot.Store, log *logrus.Entry) *SnapshotHandler {
	return &SnapshotHandler{store: store, log: log}
}

// Register: mounts the snapshot routes on r
func (h *SnapshotHandler) Register(r *mux.Router) {
	r.HandleFunc("/whiteboards/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/whiteboards/{id}", h.Put).Methods(http.MethodPut)
	r.HandleFunc("/whiteboards/{id}", h.Patch).Methods(http.MethodPatch)
}

// Get: GET /whiteboards/{id}
func (h *SnapshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.store.Get(r.Context(), id)
	if snapshot.IsNotFound(err) {
		ErrorResponse(w, http.StatusNotFound, "whiteboard not found")
		return
	}
	if err != nil {
		h.fail(w, "get", id, err)
		return
	}

	JSONResponse(w, http.StatusOK, rec)
}

// Put: PUT /whiteboards/{id}, full replace
func (h *SnapshotHandler) Put(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var rec snapshot.Record
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBody)).Decode(&rec); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid snapshot body")
		return
	}
	if rec.ID != "" && rec.ID != id {
		ErrorResponse(w, http.StatusBadRequest, "id does not match path")
		return
	}
	rec.ID = id

	if err := h.store.Upsert(r.Context(), &rec); err != nil {
		h.fail(w, "upsert", id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Patch: PATCH /whiteboards/{id}, only collaborationEnabled is accepted
func (h *SnapshotHandler) Patch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		CollaborationEnabled *bool `json:"collaborationEnabled"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&body); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.CollaborationEnabled == nil {
		ErrorResponse(w, http.StatusBadRequest, "collaborationEnabled is required")
		return
	}

	err := h.store.SetCollaboration(r.Context(), id, *body.CollaborationEnabled)
	if snapshot.IsNotFound(err) {
		ErrorResponse(w, http.StatusNotFound, "whiteboard not found")
		return
	}
	if err != nil {
		h.fail(w, "update", id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SnapshotHandler) fail(w http.ResponseWriter, op, id string, err error) {
	h.log.WithError(err).WithFields(logrus.Fields{"op": op, "whiteboard": id}).Error("snapshot store failed")
	ErrorResponse(w, http.StatusInternalServerError, "snapshot store failed")
}
