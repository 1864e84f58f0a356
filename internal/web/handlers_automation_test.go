//go:build !no_automation

package web

import (
	"encoding/json"
	"net/http"
	"testing"

	"zwave-go-home/internal/automation"
)

func TestAPIAutomations(t *testing.T) {
	mgr, err := automation.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := setupTestServer(t, WithAutomation(nil, mgr))

	w := do(srv, "POST", "/api/automations", saveAutomationRequest{Name: "Night Light", LuaCode: "zwave.log('hi')"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", w.Code, w.Body.String())
	}
	var created automation.Script
	json.NewDecoder(w.Body).Decode(&created)
	if created.ID != "night_light" {
		t.Fatalf("id = %q", created.ID)
	}

	w = do(srv, "POST", "/api/automations/night_light/toggle", nil)
	var toggled automation.Script
	json.NewDecoder(w.Body).Decode(&toggled)
	if !toggled.Meta.Enabled {
		t.Error("toggle did not enable")
	}

	w = do(srv, "PUT", "/api/automations/night_light", saveAutomationRequest{Name: "Night Light", LuaCode: "-- empty"})
	if w.Code != http.StatusOK {
		t.Errorf("update: status = %d", w.Code)
	}

	w = do(srv, "GET", "/api/automations", nil)
	var list []automation.Script
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 || list[0].LuaCode != "-- empty" {
		t.Errorf("list = %+v", list)
	}

	if w := do(srv, "POST", "/api/automations", saveAutomationRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d", w.Code)
	}
	if w := do(srv, "DELETE", "/api/automations/night_light", nil); w.Code != http.StatusOK {
		t.Errorf("delete: status = %d", w.Code)
	}
	if w := do(srv, "GET", "/api/automations/night_light", nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted: status = %d", w.Code)
	}
	if w := do(srv, "DELETE", "/api/automations/night_light", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete twice: status = %d", w.Code)
	}
	if w := do(srv, "POST", "/api/automations/x/run", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("run without engine: status = %d", w.Code)
	}
}
