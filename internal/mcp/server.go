// Package mcp exposes the synchronization engine over the Model Context
// Protocol using the official SDK.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/semsync/semsync/internal/config"
	"github.com/semsync/semsync/internal/project"
	"github.com/semsync/semsync/internal/search"
	syncer "github.com/semsync/semsync/internal/sync"
	"github.com/semsync/semsync/internal/version"
)

// RegisterInput is the input for semsync_register.
type RegisterInput struct {
	Path string `json:"path" jsonschema:"REQUIRED - Absolute path of the project directory to keep indexed."`
}

// UnregisterInput is the input for semsync_unregister.
type UnregisterInput struct {
	Path string `json:"path" jsonschema:"Absolute path of a registered project to remove, including its index data."`
}

// SyncInput is the input for semsync_sync.
type SyncInput struct {
	Path string `json:"path" jsonschema:"Absolute path of a registered project to synchronize immediately."`
}

// SearchInput is the input for semsync_search.
type SearchInput struct {
	Path  string `json:"path" jsonschema:"Absolute path of the registered project to search in."`
	Query string `json:"query" jsonschema:"Natural language description of the content to find."`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results to return."`
	File  string `json:"file,omitempty" jsonschema:"Restrict results to one project-relative file path."`
}

// StatusInput is the input for semsync_status (empty).
type StatusInput struct{}

// Server wraps the SDK server around the scheduler, registry and searcher.
type Server struct {
	server    *sdkmcp.Server
	cfg       *config.Config
	registry  *project.Registry
	scheduler *syncer.Scheduler
	searcher  *search.Searcher
	logger    *zap.Logger
}

// ServerConfig carries the collaborators the MCP server exposes.
type ServerConfig struct {
	Config    *config.Config
	Registry  *project.Registry
	Scheduler *syncer.Scheduler
	Searcher  *search.Searcher
	Logger    *zap.Logger
}

// NewServer builds the MCP server and registers its tools.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:       cfg.Config,
		registry:  cfg.Registry,
		scheduler: cfg.Scheduler,
		searcher:  cfg.Searcher,
		logger:    cfg.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.server = sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "semsync",
		Version: version.Version,
	}, &sdkmcp.ServerOptions{
		Instructions: "semsync keeps a semantic index of local project directories in sync with the filesystem. " +
			"Register a project with semsync_register, then use semsync_search to find content by meaning. " +
			"Registered projects are re-synchronized automatically on an interval; " +
			"semsync_sync forces an immediate pass and semsync_status shows per-project state.",
	})

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "semsync_register",
		Description: "Register a project directory for continuous semantic indexing. The first synchronization pass starts immediately.",
	}, s.handleRegister)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "semsync_unregister",
		Description: "Unregister a project and delete its vector collection and metadata.",
	}, s.handleUnregister)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "semsync_sync",
		Description: "Run a synchronization pass for a registered project right now and report what changed.",
	}, s.handleSync)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "semsync_search",
		Description: "Semantic search over a registered project's indexed files. Returns the most similar chunks with file locations.",
	}, s.handleSearch)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "semsync_status",
		Description: "Show the synchronization state, file counts and last sync time of every registered project.",
	}, s.handleStatus)

	return s
}

// Run serves MCP over stdio until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &sdkmcp.StdioTransport{})
}

func errorResult(format string, args ...any) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}

// resolvePath expands ~ and resolves the input to an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return filepath.Abs(path)
}

// persistRoots records the current registry so registered projects survive a
// daemon restart.
func (s *Server) persistRoots() {
	roots := make([]string, 0)
	for _, p := range s.registry.List() {
		roots = append(roots, p.Root)
	}
	if err := project.SaveRoots(s.cfg.DataDir, roots); err != nil {
		s.logger.Warn("persist project roots", zap.Error(err))
	}
}

// lookup finds the registered project for a path input.
func (s *Server) lookup(path string) (*project.Project, error) {
	abs, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	proj, ok := s.registry.ByRoot(abs)
	if !ok {
		return nil, project.ErrNotRegistered
	}
	return proj, nil
}

func (s *Server) handleRegister(ctx context.Context, req *sdkmcp.CallToolRequest, input RegisterInput) (*sdkmcp.CallToolResult, any, error) {
	if input.Path == "" {
		return errorResult("Error: 'path' parameter is required.\n\nSpecify the absolute path of the project directory to register."), nil, nil
	}
	abs, err := resolvePath(input.Path)
	if err != nil {
		return errorResult("Failed to resolve path: %v", err), nil, nil
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return errorResult("Directory does not exist: %s", abs), nil, nil
	}

	rules := project.Rules{
		Extensions:  s.cfg.Indexing.Extensions,
		ExcludeDirs: s.cfg.Indexing.ExcludeDirs,
		MaxFileSize: s.cfg.Indexing.MaxFileSize,
	}
	proj, err := project.New(abs, rules, s.cfg.Indexing.ChunkSize, s.cfg.Indexing.ChunkOverlap)
	if err != nil {
		return errorResult("Invalid project configuration: %v", err), nil, nil
	}
	if err := s.scheduler.Register(proj); err != nil {
		if errors.Is(err, project.ErrAlreadyRegistered) {
			return textResult(fmt.Sprintf("Project already registered: %s", abs)), nil, nil
		}
		return errorResult("Failed to register project: %v", err), nil, nil
	}
	s.persistRoots()

	return textResult(fmt.Sprintf("Registered project %s (collection %s). The first synchronization pass is running.", abs, proj.ID)), nil, nil
}

func (s *Server) handleUnregister(ctx context.Context, req *sdkmcp.CallToolRequest, input UnregisterInput) (*sdkmcp.CallToolResult, any, error) {
	proj, err := s.lookup(input.Path)
	if err != nil {
		return errorResult("Project is not registered: %s", input.Path), nil, nil
	}
	if err := s.scheduler.Unregister(proj.ID); err != nil {
		return errorResult("Failed to unregister project: %v", err), nil, nil
	}
	s.persistRoots()
	return textResult(fmt.Sprintf("Unregistered project %s and removed its index data.", proj.Root)), nil, nil
}

func (s *Server) handleSync(ctx context.Context, req *sdkmcp.CallToolRequest, input SyncInput) (*sdkmcp.CallToolResult, any, error) {
	proj, err := s.lookup(input.Path)
	if err != nil {
		return errorResult("Project is not registered: %s", input.Path), nil, nil
	}

	result, err := s.scheduler.SyncNow(ctx, proj.ID)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncRunning) {
			return textResult("A synchronization pass is already running for this project."), nil, nil
		}
		return errorResult("Synchronization failed: %v", err), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Synchronization complete for %s:\n", proj.Root))
	sb.WriteString(fmt.Sprintf("- Added: %d\n", result.Added))
	sb.WriteString(fmt.Sprintf("- Modified: %d\n", result.Modified))
	sb.WriteString(fmt.Sprintf("- Deleted: %d\n", result.Deleted))
	sb.WriteString(fmt.Sprintf("- Chunks written: %d\n", result.Chunks))
	sb.WriteString(fmt.Sprintf("- Duration: %s\n", result.Duration))
	if result.Deferred > 0 {
		sb.WriteString(fmt.Sprintf("- Deferred to next pass: %d\n", result.Deferred))
	}
	return textResult(sb.String()), nil, nil
}

func (s *Server) handleSearch(ctx context.Context, req *sdkmcp.CallToolRequest, input SearchInput) (*sdkmcp.CallToolResult, any, error) {
	if input.Query == "" {
		return errorResult("query parameter is required"), nil, nil
	}
	proj, err := s.lookup(input.Path)
	if err != nil {
		return errorResult("Project is not registered: %s", input.Path), nil, nil
	}

	hits, err := s.searcher.Search(ctx, proj.ID, input.Query, search.Options{
		Limit:    input.Limit,
		FilePath: input.File,
	})
	if err != nil {
		return errorResult("Search error: %v", err), nil, nil
	}
	if len(hits) == 0 {
		return textResult("No results found."), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results:\n\n", len(hits)))
	for i, h := range hits {
		sb.WriteString(fmt.Sprintf("### Result %d (score: %.2f)\n", i+1, h.Score))
		sb.WriteString(fmt.Sprintf("**File:** %s (chunk %d, chars %d-%d)\n\n", h.FilePath, h.Ordinal, h.Start, h.End))
		sb.WriteString("```\n")
		sb.WriteString(h.Content)
		sb.WriteString("\n```\n\n")
	}
	return textResult(sb.String()), nil, nil
}

func (s *Server) handleStatus(ctx context.Context, req *sdkmcp.CallToolRequest, input StatusInput) (*sdkmcp.CallToolResult, any, error) {
	statuses := s.scheduler.StatusAll()
	if len(statuses) == 0 {
		return textResult("No projects registered. Use semsync_register to add one."), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Registered projects: %d\n\n", len(statuses)))
	for _, ps := range statuses {
		sb.WriteString(fmt.Sprintf("%s\n", ps.Project.Root))
		sb.WriteString(fmt.Sprintf("  State: %s\n", ps.Status.State))
		sb.WriteString(fmt.Sprintf("  Files indexed: %d\n", ps.Status.FileCount))
		if !ps.Status.LastSyncTime.IsZero() {
			sb.WriteString(fmt.Sprintf("  Last sync: %s\n", ps.Status.LastSyncTime.Format("2006-01-02 15:04:05")))
		}
		if ps.Status.PendingCount > 0 {
			sb.WriteString(fmt.Sprintf("  Pending files: %d\n", ps.Status.PendingCount))
		}
		if ps.Status.RootMissing {
			sb.WriteString("  Warning: project root is missing on disk\n")
		}
		if ps.Status.LastError != "" {
			sb.WriteString(fmt.Sprintf("  Last error: %s\n", ps.Status.LastError))
		}
		sb.WriteString("\n")
	}
	return textResult(sb.String()), nil, nil
}
