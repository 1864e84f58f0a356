package web

import (
	"errors"
	"net/http"

	"zwave-go-home/internal/automation"
)

// inlineScriptID runs the request body instead of a saved script.
const inlineScriptID = "_inline"

type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	BlocklyXML  string `json:"blockly_xml"`
	Enabled     bool   `json:"enabled"`
}

func (req saveAutomationRequest) apply(s *automation.Script) {
	s.Meta.Name = req.Name
	s.Meta.Description = req.Description
	s.Meta.Enabled = req.Enabled
	s.LuaCode = req.LuaCode
	s.BlocklyXML = req.BlocklyXML
}

// scripts reports whether automations are configured, answering the request
// itself when they are not.
func (s *Server) scripts(w http.ResponseWriter) bool {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automations not available")
		return false
	}
	return true
}

// scriptError maps manager errors to responses.
func (s *Server) scriptError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, automation.ErrScriptNotFound), errors.Is(err, automation.ErrInvalidScriptID):
		s.writeError(w, http.StatusNotFound, "script not found")
	default:
		s.logger.Error(op+" script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// syncEngine starts or stops the VM of a saved script to match its state.
func (s *Server) syncEngine(script *automation.Script, op string) {
	if s.autoEngine == nil {
		return
	}
	if !script.Meta.Enabled {
		s.autoEngine.StopScript(script.ID)
		return
	}
	if err := s.autoEngine.ReloadScript(script.ID); err != nil {
		s.logger.Error("reload script after "+op, "id", script.ID, "err", err)
	}
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	list := []*automation.Script{}
	if s.scriptMgr != nil {
		all, err := s.scriptMgr.List()
		if err != nil {
			s.scriptError(w, "list", err)
			return
		}
		list = append(list, all...)
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scripts(w) {
		return
	}
	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get", err)
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scripts(w) {
		return
	}
	var req saveAutomationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	script := &automation.Script{}
	req.apply(script)
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.scriptError(w, "create", err)
		return
	}
	if saved.Meta.Enabled {
		s.syncEngine(saved, "create")
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scripts(w) {
		return
	}
	existing, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get", err)
		return
	}
	var req saveAutomationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		req.Name = existing.Meta.Name
	}

	req.apply(existing)
	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.scriptError(w, "update", err)
		return
	}
	s.syncEngine(saved, "update")
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scripts(w) {
		return
	}
	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	if err := s.scriptMgr.Delete(id); err != nil {
		s.scriptError(w, "delete", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scripts(w) {
		return
	}
	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.scriptError(w, "get", err)
		return
	}

	script.Meta.Enabled = !script.Meta.Enabled
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.scriptError(w, "toggle", err)
		return
	}
	s.syncEngine(saved, "toggle")
	s.writeJSON(w, http.StatusOK, saved)
}

// handleAPIRunAutomation runs a saved script once, or the posted code when
// the id is _inline.
func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation engine not available")
		return
	}

	id := r.PathValue("id")
	if id != inlineScriptID {
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
		return
	}

	var req struct {
		LuaCode string `json:"lua_code"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}
