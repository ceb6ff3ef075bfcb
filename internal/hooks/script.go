package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/alucardeht/lspipe/internal/logger"
	"github.com/alucardeht/lspipe/pkg/hook"
	"github.com/alucardeht/lspipe/pkg/protocol"
)

// Script runs a user Lua file against intercepted traffic. The file may
// define two globals:
//
//	function on_request(msg)  -- msg = {id, method, params}
//	function on_response(msg) -- msg = {id, method, result} or {id, method, error}
//
// Returning nil keeps the message as is; returning a table replaces the
// rewritable members. A script can call notify(method, params) to push a
// notification to the client. Ids are passed as strings and cannot be
// changed.
//
// One Lua state serves every bound method, so script calls are serialized
// across both directions.
type Script struct {
	log  *slog.Logger
	path string

	mu         sync.Mutex
	state      *lua.LState
	onRequest  lua.LValue
	onResponse lua.LValue
}

func NewScript(path string) (*Script, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	s := &Script{
		log:        logger.ForComponent("script"),
		path:       path,
		state:      L,
		onRequest:  L.GetGlobal("on_request"),
		onResponse: L.GetGlobal("on_response"),
	}
	s.log.Info("script loaded", "path", path,
		"on_request", s.onRequest != lua.LNil, "on_response", s.onResponse != lua.LNil)
	return s, nil
}

func (s *Script) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Close()
	return nil
}

// Bind returns the hook for one method; the method is what response tables
// report, since responses do not carry it on the wire.
func (s *Script) Bind(method string) hook.Hook {
	return &boundScript{s: s, method: method}
}

type boundScript struct {
	s      *Script
	method string
}

func (b *boundScript) OnRequest(_ context.Context, req *protocol.Request) (*hook.Output, error) {
	s := b.s
	if s.onRequest == lua.LNil {
		return &hook.Output{Message: req}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.state.NewTable()
	msg.RawSetString("id", lua.LString(req.ID.String()))
	msg.RawSetString("method", lua.LString(req.Method))
	if len(req.Params) > 0 {
		v, err := decodeJSON(req.Params)
		if err != nil {
			return nil, err
		}
		msg.RawSetString("params", toLua(s.state, v))
	}

	ret, notes, err := s.call(s.onRequest, msg)
	if err != nil {
		return nil, fmt.Errorf("on_request: %w", err)
	}

	out := &hook.Output{Message: req, Notifications: notes}
	switch rv := ret.(type) {
	case *lua.LNilType:
	case *lua.LTable:
		method := req.Method
		if m, ok := rv.RawGetString("method").(lua.LString); ok {
			method = string(m)
		}
		params, err := encodeField(rv.RawGetString("params"))
		if err != nil {
			return nil, fmt.Errorf("on_request params: %w", err)
		}
		out.Message = &protocol.Request{ID: req.ID, Method: method, Params: params}
	default:
		return nil, fmt.Errorf("on_request must return a table or nil, got %s", ret.Type())
	}
	return out, nil
}

func (b *boundScript) OnResponse(_ context.Context, resp *protocol.Response) (*hook.Output, error) {
	s := b.s
	if s.onResponse == lua.LNil {
		return &hook.Output{Message: resp}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.state.NewTable()
	msg.RawSetString("id", lua.LString(resp.ID.String()))
	msg.RawSetString("method", lua.LString(b.method))
	if resp.Error != nil {
		errTbl := s.state.NewTable()
		errTbl.RawSetString("code", lua.LNumber(resp.Error.Code))
		errTbl.RawSetString("message", lua.LString(resp.Error.Message))
		msg.RawSetString("error", errTbl)
	} else if len(resp.Result) > 0 {
		v, err := decodeJSON(resp.Result)
		if err != nil {
			return nil, err
		}
		msg.RawSetString("result", toLua(s.state, v))
	}

	ret, notes, err := s.call(s.onResponse, msg)
	if err != nil {
		return nil, fmt.Errorf("on_response: %w", err)
	}

	out := &hook.Output{Message: resp, Notifications: notes}
	switch rv := ret.(type) {
	case *lua.LNilType:
	case *lua.LTable:
		if errVal, ok := rv.RawGetString("error").(*lua.LTable); ok {
			re := &protocol.ResponseError{
				Code:    int(lua.LVAsNumber(errVal.RawGetString("code"))),
				Message: lua.LVAsString(errVal.RawGetString("message")),
			}
			out.Message = &protocol.Response{ID: resp.ID, Error: re}
			break
		}
		result, err := encodeField(rv.RawGetString("result"))
		if err != nil {
			return nil, fmt.Errorf("on_response result: %w", err)
		}
		if result == nil {
			result = json.RawMessage("null")
		}
		out.Message = &protocol.Response{ID: resp.ID, Result: result}
	default:
		return nil, fmt.Errorf("on_response must return a table or nil, got %s", ret.Type())
	}
	return out, nil
}

// call invokes fn with msg, collecting notifications pushed through the
// notify global. The caller must hold s.mu.
func (s *Script) call(fn lua.LValue, msg *lua.LTable) (lua.LValue, []*protocol.Notification, error) {
	var notes []*protocol.Notification
	s.state.SetGlobal("notify", s.state.NewFunction(func(L *lua.LState) int {
		method := L.CheckString(1)
		var params json.RawMessage
		if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
			data, err := json.Marshal(fromLua(L.Get(2)))
			if err != nil {
				L.RaiseError("notify params: %v", err)
			}
			params = data
		}
		notes = append(notes, &protocol.Notification{Method: method, Params: params})
		return 0
	}))

	if err := s.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, msg); err != nil {
		return nil, nil, err
	}
	ret := s.state.Get(-1)
	s.state.Pop(1)
	return ret, notes, nil
}

func decodeJSON(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	return v, nil
}

// encodeField marshals a Lua value for the wire; Lua nil maps to an absent
// field.
func encodeField(lv lua.LValue) (json.RawMessage, error) {
	if lv == lua.LNil {
		return nil, nil
	}
	data, err := json.Marshal(fromLua(lv))
	if err != nil {
		return nil, err
	}
	return data, nil
}
