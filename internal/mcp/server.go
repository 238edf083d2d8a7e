package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/alucardeht/sqlgate-mcp/pkg/protocol"
)

const maxLineSize = 16 * 1024 * 1024

// Server serves newline-delimited JSON-RPC over a byte stream.
type Server struct {
	handler *Handler
}

func NewServer(handler *Handler) *Server {
	return &Server{handler: handler}
}

func (s *Server) HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	return s.handler.Handle(ctx, req)
}

func (s *Server) ProcessStream(ctx context.Context, reader io.Reader, writer io.Writer) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp *protocol.Response
		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = protocol.ParseErrorResponse()
		} else {
			resp = s.HandleRequest(ctx, &req)
		}

		if err := writeResponse(writer, resp); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// writeResponse fails only when the writer does.
func writeResponse(w io.Writer, resp *protocol.Response) error {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
