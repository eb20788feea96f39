package loam

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/loam"
)

// Document IDs inside an agent directory.
const (
	DefinitionID   = "agent-mermaid"
	SystemPromptID = "SYSTEM_PROMPT"
	nodesDir       = "nodes"
	nodeDocName    = "index"
)

// NodeDocumentID returns the document ID holding the instructions of a node.
func NodeDocumentID(nodeID string) string {
	return nodesDir + "/" + nodeID + "/" + nodeDocName
}

// Library adapts Loam repositories to the ports.Library interface.
// The agent directory is opened once; sub-agent directories are opened lazily and cached.
type Library struct {
	Root string
	Repo *loam.TypedRepository[DocumentMetadata]

	mu     sync.Mutex
	subs   map[string]*loam.TypedRepository[DocumentMetadata]
	logger *slog.Logger
}

// Option configures the Library.
type Option func(*Library)

// WithLogger sets the logger used to report lookup failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) {
		l.logger = logger
	}
}

// New creates a Library over an already initialized repository rooted at root.
func New(root string, repo *loam.TypedRepository[DocumentMetadata], opts ...Option) *Library {
	l := &Library{
		Root:   root,
		Repo:   repo,
		subs:   make(map[string]*loam.TypedRepository[DocumentMetadata]),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open initializes a read-only Loam repository over an agent directory.
func Open(agentPath string, opts ...Option) (*Library, error) {
	repo, err := openRepo(agentPath)
	if err != nil {
		return nil, err
	}
	return New(agentPath, repo, opts...), nil
}

func openRepo(path string) (*loam.TypedRepository[DocumentMetadata], error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	// ReadOnly avoids Loam's sandbox copy in dev mode: agent directories are never written.
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam at %s: %w", absPath, err)
	}
	return loam.NewTypedRepository[DocumentMetadata](repo), nil
}

// get treats any retrieval failure as a miss: a missing document is the common case.
func (l *Library) get(ctx context.Context, repo *loam.TypedRepository[DocumentMetadata], id string) (string, bool) {
	doc, err := repo.Get(ctx, id)
	if err != nil {
		l.logger.Debug("Document not found", "id", id, "err", err)
		return "", false
	}
	return doc.Content, true
}

// Definition returns the Mermaid graph definition of the agent.
func (l *Library) Definition(ctx context.Context) (string, bool, error) {
	text, ok := l.get(ctx, l.Repo, DefinitionID)
	return text, ok, nil
}

// Instructions returns nodes/<nodeID>/index of the agent directory.
func (l *Library) Instructions(ctx context.Context, nodeID string) (string, bool, error) {
	if nodeID == "" || strings.Contains(nodeID, "..") {
		return "", false, nil
	}
	text, ok := l.get(ctx, l.Repo, NodeDocumentID(nodeID))
	return text, ok, nil
}

// Prompt returns SYSTEM_PROMPT of the sub-agent directory at path.
// Relative paths resolve against the agent directory.
func (l *Library) Prompt(ctx context.Context, path string) (string, bool, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.Root, path)
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", false, nil
	}

	repo, err := l.subRepo(path)
	if err != nil {
		return "", false, err
	}
	text, ok := l.get(ctx, repo, SystemPromptID)
	return text, ok, nil
}

func (l *Library) subRepo(path string) (*loam.TypedRepository[DocumentMetadata], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if repo, ok := l.subs[path]; ok {
		return repo, nil
	}
	repo, err := openRepo(path)
	if err != nil {
		return nil, err
	}
	l.subs[path] = repo
	return repo, nil
}

// Nodes lists the node IDs that have an instruction document.
func (l *Library) Nodes(ctx context.Context) ([]string, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]bool)
	for _, doc := range docs {
		id := filepath.ToSlash(trimExtension(doc.ID))
		parts := strings.Split(id, "/")
		if len(parts) == 3 && parts[0] == nodesDir && parts[2] == nodeDocName {
			seen[parts[1]] = true
		}
	}

	nodes := make([]string, 0, len(seen))
	for id := range seen {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return nodes, nil
}

func trimExtension(id string) string {
	return strings.TrimSuffix(id, filepath.Ext(id))
}
