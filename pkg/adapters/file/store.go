package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/agentrun/pkg/domain"
)

const (
	snapshotExt = ".json"
	traceExt    = ".trace.jsonl"
)

// Store implements ports.SessionStore using the local filesystem.
// Each session is a JSON snapshot (<id>.json) next to an append-only JSON Lines trace (<id>.trace.jsonl).
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".agentrun/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".agentrun", "sessions")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) snapshotPath(sessionID string) string {
	return filepath.Join(s.BasePath, sessionID+snapshotExt)
}

func (s *Store) tracePath(sessionID string) string {
	return filepath.Join(s.BasePath, sessionID+traceExt)
}

func validateID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID cannot be empty", domain.ErrInvalidArgument)
	}
	if strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return fmt.Errorf("%w: sessionID %q is not a valid file name", domain.ErrInvalidArgument, sessionID)
	}
	return nil
}

// WriteSnapshot persists the session to a JSON file atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) WriteSnapshot(ctx context.Context, sessionID string, session *domain.Session) error {
	if err := validateID(sessionID); err != nil {
		return err
	}

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	destPath := s.snapshotPath(sessionID)

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Same directory as the destination: rename is only atomic within one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+sessionID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to session snapshot: %w", err)
	}

	return nil
}

// Load retrieves the session snapshot from its JSON file.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.snapshotPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptSnapshot, sessionID, err)
	}
	session.Normalize()
	if session.SessionID == "" {
		session.SessionID = sessionID
	}

	return &session, nil
}

// AppendEvent adds one JSON line to the session trace and fsyncs it.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, event domain.Event) error {
	if err := validateID(sessionID); err != nil {
		return err
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	encoded = append(encoded, '\n')

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	f, err := os.OpenFile(s.tracePath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(encoded); err != nil {
		return fmt.Errorf("failed to append trace: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to fsync trace: %w", err)
	}
	return nil
}

// LoadTrace reads the session trace in append order.
// A torn final line (crash mid-append) is ignored; a bad line elsewhere is an error.
func (s *Store) LoadTrace(ctx context.Context, sessionID string) ([]domain.Event, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}

	f, err := os.Open(s.tracePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Event{}, nil
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 128*1024), 8*1024*1024)

	events := []domain.Event{}
	var pending error
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if pending != nil {
			return nil, pending
		}
		var e domain.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			pending = fmt.Errorf("failed to parse trace line %d: %w", lineNo, err)
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	return events, nil
}

// Delete removes the snapshot and the trace.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}

	var errs []error
	for _, path := range []string{s.snapshotPath(sessionID), s.tracePath(sessionID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", filepath.Base(path), err))
		}
	}
	return errors.Join(errs...)
}

// List returns the IDs of all sessions with a snapshot or a trace, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "tmp-") {
			continue
		}
		switch {
		case strings.HasSuffix(name, traceExt):
			seen[strings.TrimSuffix(name, traceExt)] = true
		case strings.HasSuffix(name, snapshotExt):
			seen[strings.TrimSuffix(name, snapshotExt)] = true
		}
	}

	sessions := make([]string, 0, len(seen))
	for id := range seen {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}
