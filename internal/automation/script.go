//go:build !no_automation

package automation

// ScriptMeta is the JSON header stored on the first line of a script file.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation: Lua source plus the optional Blockly workspace it
// was generated from. ID is the file name without the .lua extension.
type Script struct {
	ID         string     `json:"id"`
	Meta       ScriptMeta `json:"meta"`
	LuaCode    string     `json:"lua_code"`
	BlocklyXML string     `json:"blockly_xml"`
	FilePath   string     `json:"-"`
}
