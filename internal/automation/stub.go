//go:build no_automation

package automation

import (
	"context"
	"errors"
	"log/slog"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/store"
)

var (
	ErrScriptNotFound  = errors.New("automation: script not found")
	ErrInvalidScriptID = errors.New("automation: invalid script id")
)

// Controller mirrors the interface of the full build so callers compile
// unchanged.
type Controller interface {
	Subscribe(fn events.Listener) func()
	ListNodes() ([]*store.Node, error)
	GetNode(id uint8) (*store.Node, error)
	SendRaw(ctx context.Context, cmd controller.RawCommand) (*controller.RawResponse, error)
	BasicSet(ctx context.Context, node, value uint8) error
	StartInclusion(ctx context.Context, opts inclusion.Options) error
	StopInclusion(ctx context.Context) error
}

type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type Script struct {
	ID         string     `json:"id"`
	Meta       ScriptMeta `json:"meta"`
	LuaCode    string     `json:"lua_code"`
	BlocklyXML string     `json:"blockly_xml"`
	FilePath   string     `json:"-"`
}

type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

var disabled = &RunResult{OK: false, Error: "automation disabled", Logs: []string{}}

// Manager is a no-op when automation is compiled out.
type Manager struct{}

// NewManager returns a nil manager so the web API reports automations as
// unavailable.
func NewManager(_ string) (*Manager, error) { return nil, nil }

func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Enabled() ([]*Script, error)     { return nil, nil }
func (m *Manager) Get(_ string) (*Script, error)   { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }
func (m *Manager) Delete(_ string) error           { return ErrScriptNotFound }

// Engine is a no-op when automation is compiled out.
type Engine struct{}

func NewEngine(_ Controller, _ *Manager, _ *slog.Logger, _ inclusion.Options) *Engine {
	return &Engine{}
}

func (e *Engine) Start()                         {}
func (e *Engine) Stop()                          {}
func (e *Engine) ReloadScript(_ string) error    { return nil }
func (e *Engine) StopScript(_ string)            {}
func (e *Engine) Running() []string              { return nil }
func (e *Engine) RunScript(_ string) *RunResult  { return disabled }
func (e *Engine) RunLuaCode(_ string) *RunResult { return disabled }
