package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// JSONHandler implements Handler for JSON-Lines communication.
type JSONHandler struct {
	Writer  io.Writer
	Encoder *json.Encoder
}

// NewJSONHandler creates a handler writing to w (stdout when nil).
func NewJSONHandler(w io.Writer) *JSONHandler {
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Writer:  w,
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Decode(line string) (Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Request{}, ErrSkip
	}
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return Request{}, fmt.Errorf("invalid request line: %w", err)
	}
	if req.Op == "" {
		return req, fmt.Errorf("request has no op")
	}
	return req, nil
}

func (h *JSONHandler) Encode(ctx context.Context, res Response) error {
	return h.Encoder.Encode(res)
}

func (h *JSONHandler) Prompt() string { return "" }
