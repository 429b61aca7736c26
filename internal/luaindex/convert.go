package luaindex

import (
	lua "github.com/yuin/gopher-lua"
)

// toLua converts a normalized payload value. Values outside the normalized
// shape become nil.
func toLua(L *lua.LState, val any) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int8:
		return lua.LNumber(v)
	case int16:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint:
		return lua.LNumber(v)
	case uint8:
		return lua.LNumber(v)
	case uint16:
		return lua.LNumber(v)
	case uint32:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case map[string]any:
		return mapToTable(L, v)
	case []any:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(toLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

func mapToTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.CreateTable(0, len(m))
	for k, v := range m {
		L.SetField(tbl, k, toLua(L, v))
	}
	return tbl
}
