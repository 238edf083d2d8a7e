package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

const Version = "2.0"

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ID is the raw JSON request id. It is echoed back unchanged, so string,
// number and null ids all survive the round trip.
type ID []byte

var nullID = []byte("null")

func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID(b)
}

func NumberID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

func (id ID) IsNull() bool {
	return len(id) == 0 || bytes.Equal(id, nullID)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return nullID, nil
	}
	return []byte(id), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	*id = append((*id)[:0], data...)
	return nil
}

func (id ID) String() string {
	if id.IsNull() {
		return "null"
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

type Request struct {
	JSONRPC string `json:"jsonrpc,omitempty"`
	ID      ID     `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  Params `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewResult(id ID, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

func NewErrorResponse(id ID, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

func ParseErrorResponse() *Response {
	return NewErrorResponse(nil, CodeParseError, "Parse error")
}

// EncodeResponse marshals resp. A result that cannot be encoded turns into
// an internal error carrying the same id, so the caller always has a reply
// to write.
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err == nil {
		return data, nil
	}
	return json.Marshal(EncodeFailureResponse(resp.ID, err))
}

func EncodeFailureResponse(id ID, err error) *Response {
	return NewErrorResponse(id, CodeInternalError, "Internal server error: failed to encode response: "+err.Error())
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
