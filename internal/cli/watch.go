package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aretw0/agentrun/internal/presentation/tui"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/observability"
)

// Watch follows a session on a running agentrun server and writes one line per event
// to w. It returns nil when ctx is cancelled or the server ends the stream.
func Watch(ctx context.Context, baseURL, sessionID string, w io.Writer) error {
	endpoint := strings.TrimRight(baseURL, "/") + "/sessions/" + url.PathEscape(sessionID) + "/events?watch=trace"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error connecting to %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from %s: %s", endpoint, resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var name string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if name == "ping" {
				continue
			}
			var msg observability.Message
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				return fmt.Errorf("malformed %s message: %w", name, err)
			}
			printMessage(w, msg)
		case line == "":
			name = ""
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printMessage(w io.Writer, msg observability.Message) {
	switch msg.Type {
	case observability.MessageFullState:
		status := domain.StatusInitialized
		if msg.State != nil {
			status = msg.State.Status
		}
		fmt.Fprintf(w, "%s %s (%d events)\n", tui.StatusBadge(status), msg.SessionID, len(msg.History))
		for _, e := range msg.History {
			printEvent(w, e)
		}
	case observability.MessageTrace:
		if msg.Event != nil {
			printEvent(w, *msg.Event)
		}
	}
}

func printEvent(w io.Writer, e domain.Event) {
	fmt.Fprintf(w, "%4d  %-22s %s\n", e.Seq, e.Action, tui.Describe(e))
}
