//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Script lookup errors.
var (
	ErrScriptNotFound  = errors.New("automation: script not found")
	ErrInvalidScriptID = errors.New("automation: invalid script id")
)

const scriptExt = ".lua"

// validScriptID rejects ids that could escape the scripts directory. Ids
// starting with an underscore are reserved for the HTTP API.
func validScriptID(id string) bool {
	switch {
	case id == "", id == ".", id == "..":
		return false
	case strings.HasPrefix(id, "_"):
		return false
	case strings.ContainsAny(id, "/\\"), strings.Contains(id, ".."):
		return false
	}
	return true
}

const metaPrefix = "-- "

var blocklyRe = regexp.MustCompile(`(?s)--\[\[BLOCKLY_XML\n(.*?)\nBLOCKLY_XML\]\]--`)

// Manager stores scripts as individual .lua files in one directory.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager creates dir if needed and returns a manager for it.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// List returns every readable script ordered by id.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), scriptExt) {
			continue
		}
		s, err := m.parseFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			slog.Warn("skipping unreadable script", "file", e.Name(), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

// Enabled returns the scripts whose metadata marks them enabled.
func (m *Manager) Enabled() ([]*Script, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if s.Meta.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

// Get loads one script. Unknown ids yield ErrScriptNotFound.
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScriptID, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.parseFile(m.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	return s, err
}

// Save writes s, assigning an id derived from its name when it has none.
// The file is replaced atomically so a running engine never reads a partial
// script.
func (m *Manager) Save(s *Script) (*Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	} else if !validScriptID(s.ID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScriptID, s.ID)
	}

	s.FilePath = m.path(s.ID)
	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(serializeScript(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	if err := os.Rename(tmp, s.FilePath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// freeID returns base, or base_N for the first N not already on disk.
func (m *Manager) freeID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for i := 1; ; i++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, os.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

// Delete removes a script file.
func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidScriptID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, id)
		}
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

// parseFile splits a script file into its metadata line, the optional
// Blockly block and the Lua body.
func (m *Manager) parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), scriptExt),
		FilePath: path,
	}

	content := string(data)
	lines := strings.Split(content, "\n")

	hasMeta := len(lines) > 0 && strings.HasPrefix(lines[0], metaPrefix+"{")
	if hasMeta {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[0], metaPrefix)), &s.Meta); err != nil {
			slog.Warn("script metadata parse error", "file", path, "err", err)
		}
	}

	if match := blocklyRe.FindStringSubmatch(content); len(match) > 1 {
		s.BlocklyXML = match[1]
	}

	luaLines := make([]string, 0, len(lines))
	inBlockly := false
	for i, line := range lines {
		if i == 0 && hasMeta {
			continue
		}
		if strings.HasPrefix(line, "--[[BLOCKLY_XML") {
			inBlockly = true
			continue
		}
		if inBlockly {
			if strings.HasPrefix(line, "BLOCKLY_XML]]--") {
				inBlockly = false
			}
			continue
		}
		luaLines = append(luaLines, line)
	}

	if inBlockly {
		slog.Warn("unclosed BLOCKLY_XML block", "file", path)
	}

	// The file always ends with the newline serializeScript writes after the code.
	if n := len(luaLines); n > 0 && luaLines[n-1] == "" {
		luaLines = luaLines[:n-1]
	}
	for len(luaLines) > 0 && strings.TrimSpace(luaLines[0]) == "" {
		luaLines = luaLines[1:]
	}
	s.LuaCode = strings.Join(luaLines, "\n")

	return s, nil
}

// serializeScript is the inverse of parseFile.
func serializeScript(s *Script) string {
	var b strings.Builder

	meta, _ := json.Marshal(s.Meta)
	b.WriteString(metaPrefix)
	b.Write(meta)
	b.WriteString("\n")

	if s.BlocklyXML != "" {
		b.WriteString("--[[BLOCKLY_XML\n")
		b.WriteString(s.BlocklyXML)
		b.WriteString("\nBLOCKLY_XML]]--\n")
	}

	if s.LuaCode != "" {
		b.WriteString("\n")
		b.WriteString(s.LuaCode)
		b.WriteString("\n")
	}

	return b.String()
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
