package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/lifecycle"
	"gopkg.in/yaml.v3"
)

// TextHandler implements Handler for terminal use.
//
// A line is an operation name followed by either a JSON object or key=value pairs.
// Values are decoded as JSON when they parse, and taken as plain strings otherwise;
// double quotes group words.
//
//	node_enter node_id=draft reason="first pass"
//	set_shared_context key=plan value=["a","b"]
//	route_decision {"from_node":"draft","to_node":"review","rationale":"ok"}
type TextHandler struct {
	Writer io.Writer
}

// NewTextHandler creates a handler writing to w (stdout when nil).
func NewTextHandler(w io.Writer) *TextHandler {
	if w == nil {
		w = os.Stdout
	}
	return &TextHandler{Writer: w}
}

// ResolveInput swaps an interactive terminal for a safe console reader (CONIN$ on
// Windows). Pipes, files and readers that cannot be upgraded are returned unchanged.
func (h *TextHandler) ResolveInput(r io.Reader) io.Reader {
	if upgraded, err := lifecycle.UpgradeTerminal(r); err == nil && upgraded != nil {
		return upgraded
	}
	return r
}

func (h *TextHandler) Decode(line string) (Request, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Request{}, ErrSkip
	}

	op, rest, _ := strings.Cut(line, " ")
	req := Request{Op: op, Args: map[string]any{}}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return req, nil
	}

	if strings.HasPrefix(rest, "{") {
		if err := json.Unmarshal([]byte(rest), &req.Args); err != nil {
			return req, fmt.Errorf("invalid arguments: %w", err)
		}
		return req, nil
	}

	fields, err := splitFields(rest)
	if err != nil {
		return req, err
	}
	for _, f := range fields {
		key, raw, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return req, fmt.Errorf("argument %q is not key=value", f)
		}
		req.Args[key] = parseValue(raw)
	}
	return req, nil
}

func (h *TextHandler) Encode(ctx context.Context, res Response) error {
	if res.Error != "" {
		_, err := fmt.Fprintf(h.Writer, "error: %s\n", res.Error)
		return err
	}
	out, err := toYAML(res.Result)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(h.Writer, out)
	return err
}

func (h *TextHandler) Prompt() string { return "> " }

// toYAML renders v through its JSON form so json tags name the fields.
func toYAML(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// splitFields splits on spaces outside double quotes. Quotes are kept so that
// quoted values still decode as JSON strings.
func splitFields(s string) ([]string, error) {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ' ' && !quoted:
			if current.Len() > 0 {
				fields = append(fields, current.String())
				current.Reset()
			}
			continue
		}
		current.WriteRune(r)
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if current.Len() > 0 {
		fields = append(fields, current.String())
	}
	return fields, nil
}
