// Package luaindex resolves payload indexes with a user supplied Lua script.
//
// The script must define a global function:
//
//	function get_index(event, payload)
//	  return "app-" .. event
//	end
//
// An empty string means no index. A nil or non-string result, or a runtime
// error, falls back to the default index, which is looked up on every call so
// that it follows config reloads.
package luaindex

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// EntryPoint is the global function the script must define.
const EntryPoint = "get_index"

// Resolver runs get_index for every payload. Calls are serialized because an
// LState is not safe for concurrent use.
type Resolver struct {
	mu           sync.Mutex
	L            *lua.LState
	fn           *lua.LFunction
	defaultIndex func() string
	logger       zerolog.Logger
}

// Load reads and compiles the script at path.
func Load(path string, defaultIndex func() string, logger zerolog.Logger) (*Resolver, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index script: %w", err)
	}
	return New(string(src), defaultIndex, logger.With().Str("script", path).Logger())
}

// New compiles source and looks up get_index.
func New(source string, defaultIndex func() string, logger zerolog.Logger) (*Resolver, error) {
	logger = logger.With().Str("component", "luaindex").Logger()
	L := newSandboxedState(logger)

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("load index script: %w", err)
	}
	fn, ok := L.GetGlobal(EntryPoint).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("index script does not define function %s", EntryPoint)
	}

	if defaultIndex == nil {
		defaultIndex = func() string { return "" }
	}
	return &Resolver{
		L:            L,
		fn:           fn,
		defaultIndex: defaultIndex,
		logger:       logger,
	}, nil
}

// GetIndex calls get_index(event, payload).
func (r *Resolver) GetIndex(eventName string, payload map[string]any) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.L == nil {
		return r.defaultIndex()
	}

	err := r.L.CallByParam(lua.P{
		Fn:      r.fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(eventName), mapToTable(r.L, payload))
	if err != nil {
		r.logger.Warn().Err(err).Str("event", eventName).Msg("index script failed, using default index")
		return r.defaultIndex()
	}

	ret := r.L.Get(-1)
	r.L.Pop(1)

	s, ok := ret.(lua.LString)
	if !ok {
		if ret != lua.LNil {
			r.logger.Warn().Str("event", eventName).Str("type", ret.Type().String()).
				Msg("index script returned a non-string, using default index")
		}
		return r.defaultIndex()
	}
	return string(s)
}

// Close releases the Lua state.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.L != nil {
		r.L.Close()
		r.L = nil
	}
}
