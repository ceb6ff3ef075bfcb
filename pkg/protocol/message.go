package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "2.0"

// JSON-RPC error codes used by the proxy itself. Hooks may use any code.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ErrMalformed wraps every classification failure returned by Decode.
var ErrMalformed = errors.New("malformed message")

type Kind int

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	}
	return "unknown"
}

// Message is one classified JSON-RPC message: *Request, *Response or
// *Notification.
type Message interface {
	Kind() Kind
}

// Request is a method call that expects a response with the same id.
// Params holds the raw bytes of the params field, preserved verbatim;
// nil means the field was absent.
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

func (*Request) Kind() Kind { return KindRequest }

func (r *Request) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      ID              `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	return json.Marshal(wire{JSONRPC: Version, ID: r.ID, Method: r.Method, Params: r.Params})
}

// Response answers the request that carries the same id. Exactly one of
// Result and Error is set; a JSON null result is a valid Result and is
// kept as the literal bytes "null".
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *ResponseError
}

func (*Response) Kind() Kind { return KindResponse }

func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		type wire struct {
			JSONRPC string         `json:"jsonrpc"`
			ID      ID             `json:"id"`
			Error   *ResponseError `json:"error"`
		}
		return json.Marshal(wire{JSONRPC: Version, ID: r.ID, Error: r.Error})
	}
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	type wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      ID              `json:"id"`
		Result  json.RawMessage `json:"result"`
	}
	return json.Marshal(wire{JSONRPC: Version, ID: r.ID, Result: result})
}

// Notification is a method call without an id; it never receives a response.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (*Notification) Kind() Kind { return KindNotification }

func (n *Notification) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	return json.Marshal(wire{JSONRPC: Version, Method: n.Method, Params: n.Params})
}

type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// NewErrorResponse builds an error response addressed to the given request id.
func NewErrorResponse(id ID, code int, message string) *Response {
	return &Response{ID: id, Error: &ResponseError{Code: code, Message: message}}
}

// MethodOf returns the method of a request or notification, and "" for a
// response, whose method is not carried on the wire.
func MethodOf(m Message) string {
	switch v := m.(type) {
	case *Request:
		return v.Method
	case *Notification:
		return v.Method
	}
	return ""
}

// IDOf returns the id of a request or response.
func IDOf(m Message) (ID, bool) {
	switch v := m.(type) {
	case *Request:
		return v.ID, true
	case *Response:
		return v.ID, true
	}
	return ID{}, false
}

type envelope struct {
	ID     json.RawMessage `json:"id"`
	Method json.RawMessage `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

var nullBytes = []byte("null")

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), nullBytes)
}

// Decode parses one JSON-RPC message and classifies it by field shape:
//
//	method and id, no result or error    -> *Request
//	method only                          -> *Notification
//	id and exactly one of result/error   -> *Response
//
// A null id counts as absent, so responses to unparseable requests do not
// classify. A null result counts as present. Anything else, including
// invalid JSON, is reported as ErrMalformed.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	hasID := len(env.ID) > 0 && !isNull(env.ID)
	var id ID
	if hasID {
		if err := id.UnmarshalJSON(env.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	hasMethod := len(env.Method) > 0 && !isNull(env.Method)
	var method string
	if hasMethod {
		if err := json.Unmarshal(env.Method, &method); err != nil {
			return nil, fmt.Errorf("%w: method must be a string", ErrMalformed)
		}
	}

	hasResult := len(env.Result) > 0
	hasError := len(env.Error) > 0 && !isNull(env.Error)

	switch {
	case hasMethod && !hasResult && !hasError:
		if hasID {
			return &Request{ID: id, Method: method, Params: env.Params}, nil
		}
		return &Notification{Method: method, Params: env.Params}, nil
	case !hasMethod && hasID && hasResult != hasError:
		resp := &Response{ID: id}
		if hasError {
			var re ResponseError
			if err := json.Unmarshal(env.Error, &re); err != nil {
				return nil, fmt.Errorf("%w: error member must be an object", ErrMalformed)
			}
			resp.Error = &re
		} else {
			resp.Result = env.Result
		}
		return resp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMalformed, shapeProblem(hasID, hasMethod, hasResult, hasError))
}

// Encode serializes a message to its wire form. The jsonrpc version member
// is always emitted as "2.0".
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func shapeProblem(hasID, hasMethod, hasResult, hasError bool) string {
	switch {
	case hasMethod && (hasResult || hasError):
		return "message carries both method and result/error members"
	case !hasMethod && hasID && hasResult && hasError:
		return "response carries both result and error members"
	case !hasMethod && hasID:
		return "response carries neither result nor error member"
	default:
		return "message has no method and no id"
	}
}
