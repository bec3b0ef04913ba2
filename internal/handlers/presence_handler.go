package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
	"github.com/prudhvinik1/edgepresence/internal/services"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 10

type PresenceHandler struct {
	presence *services.PresenceService
	log      *zap.Logger
}

func NewPresenceHandler(presence *services.PresenceService, log *zap.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, log: log}
}

type deviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type connectResponse struct {
	OK bool `json:"ok"`
	*services.ConnectResult
}

type disconnectResponse struct {
	OK bool `json:"ok"`
	*services.DisconnectResult
}

type activityResponse struct {
	OK bool `json:"ok"`
	*services.ActivityResult
}

type okResponse struct {
	OK bool `json:"ok"`
}

var errBadBody = errors.New("invalid request body")

// caller returns the authenticated user and the device id for the request:
// body, then ?deviceId=, then X-Device-ID, then the token claim.
func (h *PresenceHandler) caller(r *http.Request) (uuid.UUID, string, error) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", services.ErrUnauthenticated
	}

	var req deviceRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return uuid.Nil, "", errBadBody
	}
	// sendBeacon posts text/plain, so the content type is not checked
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return uuid.Nil, "", errBadBody
		}
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = strings.TrimSpace(r.URL.Query().Get("deviceId"))
	}
	if deviceID == "" {
		deviceID = strings.TrimSpace(r.Header.Get("X-Device-ID"))
	}
	if deviceID == "" {
		deviceID = claims.DeviceID
	}
	return claims.UserID, deviceID, nil
}

func (h *PresenceHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadBody) {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, r, h.log, err)
}

func (h *PresenceHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, err := h.caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.presence.Connect(r.Context(), userID, deviceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{OK: true, ConnectResult: res})
}

// Disconnect also serves the unload beacon; the client ignores the reply.
func (h *PresenceHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, err := h.caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.presence.Disconnect(r.Context(), userID, deviceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, disconnectResponse{OK: true, DisconnectResult: res})
}

func (h *PresenceHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, err := h.caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.presence.Activity(r.Context(), userID, deviceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activityResponse{OK: true, ActivityResult: res})
}

func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, err := h.caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.presence.Heartbeat(r.Context(), userID, deviceID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Get serves ?userId= (one row or null) and ?ids=a,b. With neither it
// lists every user. ?state= narrows the list forms to one state.
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if raw := q.Get("userId"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid userId")
			return
		}
		p, err := h.presence.Get(r.Context(), userID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	var filter presence.State
	if raw := q.Get("state"); raw != "" {
		state, err := presence.ParseState(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid state")
			return
		}
		filter = state
	}

	var states []*models.PresenceState
	if raw := q.Get("ids"); raw != "" {
		ids, err := parseIDs(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid ids")
			return
		}
		if states, err = h.presence.List(r.Context(), ids); err != nil {
			h.fail(w, r, err)
			return
		}
	} else {
		var err error
		if states, err = h.presence.ListAll(r.Context()); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, filterByState(states, filter))
}

func filterByState(states []*models.PresenceState, state presence.State) []*models.PresenceState {
	if state == "" {
		return states
	}
	out := make([]*models.PresenceState, 0, len(states))
	for _, p := range states {
		if p.State == state {
			out = append(out, p)
		}
	}
	return out
}

func (h *PresenceHandler) Devices(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.fail(w, r, services.ErrUnauthenticated)
		return
	}
	conns, err := h.presence.Devices(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func parseIDs(raw string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
