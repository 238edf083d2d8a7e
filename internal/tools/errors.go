package tools

import (
	"fmt"

	"github.com/alucardeht/sqlgate-mcp/pkg/protocol"
)

type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

func (e *ToolError) RPCError() *protocol.Error {
	return &protocol.Error{Code: e.Code, Message: e.Message}
}

func NewMethodNotFoundError(method string) *ToolError {
	return &ToolError{
		Code:    protocol.CodeMethodNotFound,
		Message: fmt.Sprintf("Method '%s' not found", method),
	}
}

func NewInvalidParamsError(message string) *ToolError {
	return &ToolError{
		Code:    protocol.CodeInvalidParams,
		Message: message,
	}
}

func NewInternalError(prefix string, err error) *ToolError {
	return &ToolError{
		Code:    protocol.CodeInternalError,
		Message: fmt.Sprintf("%s: %v", prefix, err),
	}
}
