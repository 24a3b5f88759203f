package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"grimm.is/boxwatch/internal/entity"
	"grimm.is/boxwatch/internal/logging"
	"grimm.is/boxwatch/internal/msp"
)

// entityView is the wire shape of one entity.
type entityView struct {
	ID         string         `json:"id"`
	UID        string         `json:"uid"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func viewOf(e entity.Entity) entityView {
	return entityView{
		ID:         e.ID(),
		UID:        e.UID(),
		Name:       e.Name(),
		Kind:       string(e.Kind()),
		State:      e.State(),
		Attributes: e.Attributes(),
	}
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	views := make([]entityView, 0, len(list))
	for _, e := range list {
		views = append(views, viewOf(e))
	}
	WriteJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "entity not found")
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(e))
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	s.handleEntityCommand(w, r, true)
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	s.handleEntityCommand(w, r, false)
}

func (s *Server) handleEntityCommand(w http.ResponseWriter, r *http.Request, on bool) {
	e, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "entity not found")
		return
	}
	ctrl, ok := e.(entity.Controllable)
	if !ok {
		WriteError(w, http.StatusBadRequest, "entity does not accept commands")
		return
	}

	var err error
	if on {
		err = ctrl.TurnOn(r.Context())
	} else {
		err = ctrl.TurnOff(r.Context())
	}
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(e))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		WriteError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}

	rules := snap.RuleList()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := rules[:0]
		for _, rule := range rules {
			switch status {
			case "active":
				if rule.Active() {
					filtered = append(filtered, rule)
				}
			case "paused":
				if rule.Paused && !rule.Disabled {
					filtered = append(filtered, rule)
				}
			case "disabled":
				if rule.Disabled {
					filtered = append(filtered, rule)
				}
			}
		}
		rules = filtered
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"stats":      snap.Stats,
		"rules":      rules,
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.coord.Snapshot().Rule(r.PathValue("id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "rule not found")
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var nr msp.NewRule
	if err := json.NewDecoder(r.Body).Decode(&nr); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	rule, err := s.coord.CreateRule(r.Context(), nr)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rule)
}

func (s *Server) handlePauseRule(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.PauseRule(r.Context(), r.PathValue("id")); err != nil {
		writeUpstreamError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnpauseRule(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.UnpauseRule(r.Context(), r.PathValue("id")); err != nil {
		writeUpstreamError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		WriteError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	WriteJSON(w, http.StatusOK, snap.DeviceList())
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		WriteError(w, http.StatusNotFound, "change journal not enabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.URL.Query().Get("rule"), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "journal query failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Refresh(r.Context()); err != nil {
		writeUpstreamError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"coordinator": s.coord.Status(),
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.hub != nil {
		published, dropped := s.hub.Stats()
		resp["events"] = map[string]uint64{"published": published, "dropped": dropped}
	}
	if s.registry != nil {
		resp["entities"] = len(s.registry.List())
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	buf := logging.GetAppLogBuffer()

	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var entries []logging.AppLogEntry
	if source := r.URL.Query().Get("source"); source != "" {
		entries = buf.GetBySource(source, limit)
	} else {
		entries = buf.GetLast(limit)
	}
	WriteJSON(w, http.StatusOK, entries)
}

// writeUpstreamError maps the client error taxonomy onto HTTP codes.
func writeUpstreamError(w http.ResponseWriter, err error) {
	switch msp.ErrKind(err) {
	case msp.KindValidation:
		WriteError(w, http.StatusBadRequest, err.Error())
	case msp.KindAuth:
		WriteError(w, http.StatusBadGateway, "portal rejected credentials", err.Error())
	case msp.KindPermission:
		WriteError(w, http.StatusBadGateway, "portal denied permission", err.Error())
	case msp.KindConnection, msp.KindRateLimit, msp.KindServer:
		WriteError(w, http.StatusBadGateway, "portal unreachable", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
