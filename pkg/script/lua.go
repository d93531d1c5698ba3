package script

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Lua evaluates .lua scripts with gopher-lua
type Lua struct{}

// NewLua creates the Lua interpreter
func NewLua() *Lua {
	return &Lua{}
}

// Name implements Interpreter
func (l *Lua) Name() string { return "Lua" }

// Extension implements Interpreter
func (l *Lua) Extension() string { return "lua" }

// Evaluate implements Interpreter. The value returned by the chunk is the
// result. Map globals are exposed as tables and copied back once the
// chunk finished, so scripts can hand values to later phases.
func (l *Lua) Evaluate(ctx context.Context, script Script, classPath []string, globals map[string]interface{}, output io.Writer) (interface{}, error) {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.Get(i).String())
		}
		fmt.Fprintln(output, strings.Join(parts, " "))
		return 0
	}))

	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		paths := []string{filepath.Join(filepath.Dir(script.Path), "?.lua")}
		for _, dir := range classPath {
			paths = append(paths, filepath.Join(dir, "?.lua"))
		}
		current := lua.LVAsString(L.GetField(pkg, "path"))
		if current != "" {
			paths = append(paths, current)
		}
		L.SetField(pkg, "path", lua.LString(strings.Join(paths, ";")))
	}

	tables := make(map[string]*lua.LTable)
	for name, value := range globals {
		lv := toLua(L, value)
		if tbl, ok := lv.(*lua.LTable); ok {
			if _, isMap := value.(map[string]interface{}); isMap {
				tables[name] = tbl
			}
		}
		L.SetGlobal(name, lv)
	}

	fn, err := L.Load(strings.NewReader(script.Source), script.Path)
	if err != nil {
		return nil, &EvalError{Kind: InterpreterError, Script: script.Path, Err: err}
	}

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		kind := InterpreterError
		if apiErr, ok := err.(*lua.ApiError); ok && apiErr.Type == lua.ApiErrorRun && ctx.Err() == nil {
			kind = TargetException
			if apiErr.Object != nil {
				err = fmt.Errorf("%s", apiErr.Object.String())
			}
		}
		return nil, &EvalError{Kind: kind, Script: script.Path, Err: err}
	}

	for name, tbl := range tables {
		target := globals[name].(map[string]interface{})
		for k := range target {
			delete(target, k)
		}
		tbl.ForEach(func(k, v lua.LValue) {
			target[k.String()] = fromLua(v)
		})
	}

	result := L.Get(-1)
	L.Pop(1)
	return fromLua(result), nil
}

func toLua(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []string:
		tbl := L.NewTable()
		for _, s := range v {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case map[string]string:
		tbl := L.NewTable()
		for _, k := range sortedKeys(v) {
			tbl.RawSetString(k, lua.LString(v[k]))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, item := range v {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

func fromLua(value lua.LValue) interface{} {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		m := make(map[string]interface{})
		v.ForEach(func(k, item lua.LValue) {
			m[k.String()] = fromLua(item)
		})
		return m
	default:
		return value.String()
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
