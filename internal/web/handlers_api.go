package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

type networkResponse struct {
	Network   store.NetworkState `json:"network"`
	HomeID    string             `json:"home_id"`
	Inclusion string             `json:"inclusion"`
	Exclusion string             `json:"exclusion"`
	LinkDown  bool               `json:"link_down"`
	Stats     serialapi.Stats    `json:"stats"`
}

func (s *Server) handleAPINetworkInfo(w http.ResponseWriter, r *http.Request) {
	info := s.ctrl.NetworkInfo()
	s.writeJSON(w, http.StatusOK, networkResponse{
		Network:   info,
		HomeID:    info.HomeIDString(),
		Inclusion: s.ctrl.InclusionState().String(),
		Exclusion: s.ctrl.ExclusionState().String(),
		LinkDown:  s.ctrl.LinkDown(),
		Stats:     s.ctrl.Stats(),
	})
}

func (s *Server) handleAPIListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.ctrl.ListNodes()
	if err != nil {
		s.logger.Error("list nodes", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if nodes == nil {
		nodes = []*store.Node{}
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

// nodeID parses the {id} path value. It writes the error response itself.
func (s *Server) nodeID(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	n, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || n < 1 || n > 232 {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return 0, false
	}
	return uint8(n), true
}

func (s *Server) handleAPIGetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeID(w, r)
	if !ok {
		return
	}
	node, err := s.ctrl.GetNode(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

type renameNodeRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIRenameNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeID(w, r)
	if !ok {
		return
	}

	var req renameNodeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.ctrl.RenameNode(id, req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "node not found")
			return
		}
		s.logger.Error("rename node", "err", err, "node", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": req.Name})
}

func (s *Server) handleAPIDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeID(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.ForgetNode(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "node not found")
			return
		}
		s.logger.Error("delete node", "err", err, "node", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionOptions reads optional inclusion options from the body, falling
// back to the configured defaults for an empty body.
func (s *Server) sessionOptions(w http.ResponseWriter, r *http.Request) (inclusion.Options, bool) {
	opts := s.inclusionDefaults
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return opts, false
	}
	return opts, true
}

func (s *Server) handleAPIInclusion(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.PathValue("action") {
	case "start":
		opts, ok := s.sessionOptions(w, r)
		if !ok {
			return
		}
		err = s.ctrl.StartInclusion(r.Context(), opts)
	case "stop":
		err = s.ctrl.StopInclusion(r.Context())
	default:
		s.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	s.writeSessionResult(w, "inclusion", err, s.ctrl.InclusionState())
}

func (s *Server) handleAPIExclusion(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.PathValue("action") {
	case "start":
		opts, ok := s.sessionOptions(w, r)
		if !ok {
			return
		}
		err = s.ctrl.StartExclusion(r.Context(), opts)
	case "stop":
		err = s.ctrl.StopExclusion(r.Context())
	default:
		s.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	s.writeSessionResult(w, "exclusion", err, s.ctrl.ExclusionState())
}

func (s *Server) writeSessionResult(w http.ResponseWriter, name string, err error, st inclusion.State) {
	if err != nil {
		s.logger.Warn(name+" request failed", "err", err)
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": st.String()})
}

func (s *Server) handleAPISend(w http.ResponseWriter, r *http.Request) {
	var req controller.RawCommand
	if !s.decodeBody(w, r, &req) {
		return
	}
	if _, _, err := req.Parse(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.ctrl.SendRaw(r.Context(), req)
	if err != nil {
		s.logger.Warn("send", "err", err, "function", req.Function)
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIListClasses(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.Classes().All())
}

// statusFor maps controller and transport errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inclusion.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, controller.ErrNotStarted),
		errors.Is(err, serialapi.ErrQueueFull),
		errors.Is(err, serialapi.ErrClosed),
		errors.Is(err, serialapi.ErrLink):
		return http.StatusServiceUnavailable
	case errors.Is(err, serialapi.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, controller.ErrRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reports whether the body decoded into v, answering 400 when not.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
