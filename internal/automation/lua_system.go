//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerSystemModule registers the `system` global table in a Lua state.
func registerSystemModule(L *lua.LState, e *Engine) {
	L.SetGlobal("system", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"datetime":     systemDatetime,
		"time_between": systemTimeBetween,
		"log":          func(L *lua.LState) int { return systemLog(L, e) },
	}))
}

var datetimeComponents = map[string]func(time.Time) lua.LValue{
	"hour":      func(t time.Time) lua.LValue { return lua.LNumber(t.Hour()) },
	"minute":    func(t time.Time) lua.LValue { return lua.LNumber(t.Minute()) },
	"second":    func(t time.Time) lua.LValue { return lua.LNumber(t.Second()) },
	"weekday":   func(t time.Time) lua.LValue { return lua.LNumber(t.Weekday()) },
	"day":       func(t time.Time) lua.LValue { return lua.LNumber(t.Day()) },
	"month":     func(t time.Time) lua.LValue { return lua.LNumber(t.Month()) },
	"year":      func(t time.Time) lua.LValue { return lua.LNumber(t.Year()) },
	"timestamp": func(t time.Time) lua.LValue { return lua.LNumber(t.Unix()) },
	"time_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format("15:04:05")) },
	"date_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format("2006-01-02")) },
}

// now is replaced in tests.
var now = time.Now

// system.datetime(component) returns one component of the local time.
func systemDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	get, ok := datetimeComponents[component]
	if !ok {
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	L.Push(get(now()))
	return 1
}

// clockMinutes reads an hour number or an "HH:MM" string as minutes after midnight.
func clockMinutes(L *lua.LState, n int) int {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		if v < 0 || v > 24 {
			L.ArgError(n, "hour must be 0-24")
		}
		return int(v) * 60
	case lua.LString:
		t, err := time.Parse("15:04", string(v))
		if err != nil {
			L.ArgError(n, "time must be HH:MM")
		}
		return t.Hour()*60 + t.Minute()
	default:
		L.ArgError(n, "hour or HH:MM expected")
		return 0
	}
}

// system.time_between(from, to) reports whether the local time is in
// [from, to). A range with from > to wraps past midnight.
func systemTimeBetween(L *lua.LState) int {
	from := clockMinutes(L, 1)
	to := clockMinutes(L, 2)
	t := now()
	cur := t.Hour()*60 + t.Minute()

	var in bool
	if from <= to {
		in = cur >= from && cur < to
	} else {
		in = cur >= from || cur < to
	}
	L.Push(lua.LBool(in))
	return 1
}

// system.log(level, msg)
func systemLog(L *lua.LState, e *Engine) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)

	switch level {
	case "debug":
		e.logger.Debug("script log", "msg", msg)
	case "warn":
		e.logger.Warn("script log", "msg", msg)
	case "error":
		e.logger.Error("script log", "msg", msg)
	default:
		e.logger.Info("script log", "msg", msg)
	}
	return 0
}
