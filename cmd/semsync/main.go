package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/semsync/semsync/internal/config"
	"github.com/semsync/semsync/internal/embed"
	"github.com/semsync/semsync/internal/mcp"
	"github.com/semsync/semsync/internal/meta"
	"github.com/semsync/semsync/internal/project"
	"github.com/semsync/semsync/internal/search"
	"github.com/semsync/semsync/internal/store"
	syncer "github.com/semsync/semsync/internal/sync"
	"github.com/semsync/semsync/internal/version"
	"github.com/semsync/semsync/internal/web"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "semsync",
	Short:   "Incremental semantic index synchronization for local file trees",
	Version: version.Version,
	Long: `semsync keeps an embedding-based vector index of local project
directories consistent with the filesystem.

Registered projects are re-scanned on an interval; only files whose
content actually changed are re-embedded. Search queries run against
the always-fresh index with Ollama or OpenAI embeddings.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("semsync %s\n", version.Version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory and default configuration",
	RunE:  runInit,
}

var registerCmd = &cobra.Command{
	Use:   "register <path>",
	Short: "Register a project directory for continuous indexing",
	Long: `Register a project root. The project is synchronized immediately and
then re-synchronized on every pass of a running 'semsync serve'.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister <path>",
	Short: "Unregister a project and delete its index data",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnregister,
}

var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "Run a synchronization pass now",
	Long: `Run one synchronization pass for the given project, or for every
registered project when no path is given.`,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registered projects and index statistics",
	RunE:  runStatus,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a project's index semantically",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synchronization daemon with MCP or HTTP API",
	Long: `Start the daemon: every registered project gets a periodic reindex
loop and a filesystem watcher. The index is exposed over the Model
Context Protocol (--mcp, stdio) or an HTTP JSON API (--web).`,
	RunE: runServe,
}

var discoverCmd = &cobra.Command{
	Use:   "discover <path>...",
	Short: "Find project roots under the given directories",
	Long: `Scan the given directories one level deep for project markers
(.git, go.mod, package.json, pyproject.toml, Cargo.toml) and print
the roots that could be registered.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiscover,
}

func init() {
	rootCmd.SetVersionTemplate("semsync version {{.Version}}\n")

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	searchCmd.Flags().StringP("project", "p", ".", "project root to search in")
	searchCmd.Flags().IntP("limit", "n", 10, "maximum number of results")
	searchCmd.Flags().String("file", "", "restrict results to one project-relative file")
	searchCmd.Flags().StringP("format", "f", "default", "output format (default, json)")

	statusCmd.Flags().StringP("format", "f", "default", "output format (default, json)")

	serveCmd.Flags().Bool("mcp", false, "serve MCP over stdio")
	serveCmd.Flags().Bool("web", false, "serve the HTTP JSON API")
	serveCmd.Flags().Bool("watch", true, "watch project trees and sync early on changes")
	serveCmd.Flags().String("host", "", "HTTP host (overrides config)")
	serveCmd.Flags().IntP("port", "p", 0, "HTTP port (overrides config)")

	registerCmd.Flags().Bool("no-sync", false, "register without running the first pass")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
}

// app bundles the wired collaborators every command needs.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metaStore *meta.Store
	vectors   *store.VecLiteStore
	provider  embed.Provider
	registry  *project.Registry
}

func newLogger() (*zap.Logger, error) {
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.OutputPaths = []string{"stderr"}
	}
	return zcfg.Build()
}

// openApp loads configuration and opens the stores.
func openApp() (*app, error) {
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metaStore, err := meta.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	vectors, err := store.OpenVecLite(store.Path(cfg.DataDir), cfg.Embedding.Dimensions)
	if err != nil {
		return nil, err
	}

	provider, err := createProvider(cfg)
	if err != nil {
		vectors.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		metaStore: metaStore,
		vectors:   vectors,
		provider:  provider,
		registry:  project.NewRegistry(),
	}, nil
}

func (a *app) close() {
	if err := a.vectors.Close(); err != nil {
		a.logger.Warn("close vector store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// createProvider builds the embedding provider from config, wrapped with the
// in-memory embedding cache.
func createProvider(cfg *config.Config) (embed.Provider, error) {
	var p embed.Provider
	switch cfg.Embedding.Provider {
	case "openai":
		p = embed.NewOpenAIProvider(embed.OpenAIConfig{
			APIKey:     cfg.Embedding.OpenAIAPIKey,
			BaseURL:    cfg.Embedding.OpenAIBaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
	case "ollama", "":
		p = embed.NewOllamaProvider(embed.OllamaConfig{
			URL:        cfg.Embedding.OllamaURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}
	return embed.WithCache(p, 10000), nil
}

// newProject builds a Project from the configured rules.
func (a *app) newProject(root string) (*project.Project, error) {
	rules := project.Rules{
		Extensions:  a.cfg.Indexing.Extensions,
		ExcludeDirs: a.cfg.Indexing.ExcludeDirs,
		MaxFileSize: a.cfg.Indexing.MaxFileSize,
	}
	return project.New(root, rules, a.cfg.Indexing.ChunkSize, a.cfg.Indexing.ChunkOverlap)
}

func (a *app) coordinatorOptions() syncer.Options {
	return syncer.Options{
		BatchSize:    a.cfg.Indexing.BatchSize,
		Workers:      a.cfg.Indexing.Workers,
		BatchTimeout: a.cfg.BatchTimeout(),
		Retry:        embed.DefaultRetryConfig(),
	}
}

// runPass runs one synchronous pass for the project outside the daemon.
func (a *app) runPass(ctx context.Context, proj *project.Project) (*syncer.Result, error) {
	coord, err := syncer.NewCoordinator(proj, a.metaStore, a.vectors, a.provider, a.coordinatorOptions(), a.logger)
	if err != nil {
		return nil, err
	}
	return coord.SyncNow(ctx)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := cfg.WriteDefault(); err != nil {
		return err
	}

	fmt.Printf("Initialized semsync in %s\n", cfg.DataDir)
	fmt.Printf("  Config: %s\n", filepath.Join(cfg.DataDir, config.DefaultConfigFile))
	fmt.Printf("  Embedding provider: %s (%s)\n", cfg.Embedding.Provider, cfg.Embedding.Model)
	fmt.Printf("\nRun 'semsync register <path>' to start indexing a project.\n")
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	proj, err := a.newProject(args[0])
	if err != nil {
		return err
	}
	if info, err := os.Stat(proj.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("directory does not exist: %s", proj.Root)
	}

	roots, err := project.LoadRoots(a.cfg.DataDir)
	if err != nil {
		return err
	}
	for _, r := range roots {
		if r == proj.Root {
			return fmt.Errorf("project already registered: %s", proj.Root)
		}
	}
	if err := project.SaveRoots(a.cfg.DataDir, append(roots, proj.Root)); err != nil {
		return err
	}

	fmt.Printf("Registered %s (collection %s)\n", proj.Root, proj.ID)

	if noSync, _ := cmd.Flags().GetBool("no-sync"); noSync {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("Running first synchronization pass...")
	result, err := a.runPass(ctx, proj)
	if err != nil {
		return fmt.Errorf("first pass failed: %w", err)
	}
	printResult(result)
	return nil
}

func runUnregister(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	proj, err := a.newProject(args[0])
	if err != nil {
		return err
	}

	roots, err := project.LoadRoots(a.cfg.DataDir)
	if err != nil {
		return err
	}
	kept := roots[:0]
	found := false
	for _, r := range roots {
		if r == proj.Root {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return fmt.Errorf("project not registered: %s", proj.Root)
	}
	if err := project.SaveRoots(a.cfg.DataDir, kept); err != nil {
		return err
	}

	if err := a.vectors.DropProject(proj.ID); err != nil {
		return fmt.Errorf("drop vector collection: %w", err)
	}
	if err := a.metaStore.Drop(proj.ID); err != nil {
		return fmt.Errorf("drop metadata: %w", err)
	}

	fmt.Printf("Unregistered %s and removed its index data.\n", proj.Root)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	var roots []string
	if len(args) > 0 {
		proj, err := a.newProject(args[0])
		if err != nil {
			return err
		}
		roots = []string{proj.Root}
	} else {
		roots, err = project.LoadRoots(a.cfg.DataDir)
		if err != nil {
			return err
		}
		if len(roots) == 0 {
			return fmt.Errorf("no projects registered: run 'semsync register <path>' first")
		}
	}

	for _, root := range roots {
		proj, err := a.newProject(root)
		if err != nil {
			return err
		}
		fmt.Printf("Synchronizing %s...\n", proj.Root)
		result, err := a.runPass(ctx, proj)
		if err != nil {
			return fmt.Errorf("sync %s: %w", proj.Root, err)
		}
		printResult(result)
	}
	return nil
}

func printResult(result *syncer.Result) {
	fmt.Printf("  Added:    %d\n", result.Added)
	fmt.Printf("  Modified: %d\n", result.Modified)
	fmt.Printf("  Deleted:  %d\n", result.Deleted)
	fmt.Printf("  Chunks:   %d\n", result.Chunks)
	if result.Deferred > 0 {
		fmt.Printf("  Deferred: %d\n", result.Deferred)
	}
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
}

// projectStatusOutput is the JSON shape of one project in 'status --format json'.
type projectStatusOutput struct {
	Root   string `json:"root"`
	ID     string `json:"id"`
	Files  int    `json:"files"`
	Chunks int64  `json:"chunks"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	format, _ := cmd.Flags().GetString("format")

	roots, err := project.LoadRoots(a.cfg.DataDir)
	if err != nil {
		return err
	}

	var outputs []projectStatusOutput
	for _, root := range roots {
		proj, err := a.newProject(root)
		if err != nil {
			return err
		}
		records, err := a.metaStore.Load(proj.ID)
		if err != nil {
			return fmt.Errorf("load metadata for %s: %w", proj.Root, err)
		}
		count, err := a.vectors.Count(proj.ID)
		if err != nil {
			return fmt.Errorf("count vectors for %s: %w", proj.Root, err)
		}
		outputs = append(outputs, projectStatusOutput{
			Root:   proj.Root,
			ID:     proj.ID,
			Files:  len(records),
			Chunks: count,
		})
	}

	if format == "json" {
		data, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("semsync status\n")
	fmt.Printf("  Data dir: %s\n", a.cfg.DataDir)
	fmt.Printf("  Embedding: %s (%s)\n", a.cfg.Embedding.Model, a.cfg.Embedding.Provider)
	fmt.Printf("  Reindex interval: %s\n", a.cfg.ReindexInterval())
	if len(outputs) == 0 {
		fmt.Println("\nNo projects registered.")
		return nil
	}
	fmt.Printf("\nProjects (%d):\n", len(outputs))
	for _, out := range outputs {
		fmt.Printf("  %s\n", out.Root)
		fmt.Printf("    Collection: %s\n", out.ID)
		fmt.Printf("    Files: %d, chunks: %d\n", out.Files, out.Chunks)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	projectPath, _ := cmd.Flags().GetString("project")
	limit, _ := cmd.Flags().GetInt("limit")
	file, _ := cmd.Flags().GetString("file")
	format, _ := cmd.Flags().GetString("format")

	proj, err := a.newProject(projectPath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	searcher := search.New(a.provider, a.vectors)
	hits, err := searcher.Search(ctx, proj.ID, strings.Join(args, " "), search.Options{
		Limit:    limit,
		FilePath: file,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if format == "json" {
		data, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%d. %s (chunk %d, score %.2f)\n", i+1, h.FilePath, h.Ordinal, h.Score)
		fmt.Println(indent(h.Content, "   "))
		fmt.Println()
	}
	return nil
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	roots, err := project.Discover(args)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		fmt.Println("No project roots found.")
		return nil
	}
	for _, root := range roots {
		fmt.Println(root)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	mcpMode, _ := cmd.Flags().GetBool("mcp")
	webMode, _ := cmd.Flags().GetBool("web")
	watch, _ := cmd.Flags().GetBool("watch")
	if !mcpMode && !webMode {
		webMode = true
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	scheduler := syncer.NewScheduler(a.registry, a.metaStore, a.vectors, a.provider,
		a.cfg.ReindexInterval(), a.coordinatorOptions(), a.logger)
	defer scheduler.Stop()

	// Bring persisted projects back under the scheduler.
	roots, err := project.LoadRoots(a.cfg.DataDir)
	if err != nil {
		return err
	}
	var watchers []*syncer.Watcher
	for _, root := range roots {
		proj, err := a.newProject(root)
		if err != nil {
			return err
		}
		if err := scheduler.Register(proj); err != nil {
			return fmt.Errorf("register %s: %w", proj.Root, err)
		}
		if watch {
			w, err := syncer.NewWatcher(proj, scheduler, syncer.DefaultDebounce, a.logger)
			if err != nil {
				a.logger.Warn("create watcher", zap.String("project", proj.ID), zap.Error(err))
				continue
			}
			if err := w.Start(ctx); err != nil {
				a.logger.Warn("start watcher", zap.String("project", proj.ID), zap.Error(err))
				continue
			}
			watchers = append(watchers, w)
		}
	}
	defer func() {
		for _, w := range watchers {
			_ = w.Stop()
		}
	}()

	searcher := search.New(a.provider, a.vectors)

	if mcpMode {
		server := mcp.NewServer(mcp.ServerConfig{
			Config:    a.cfg,
			Registry:  a.registry,
			Scheduler: scheduler,
			Searcher:  searcher,
			Logger:    a.logger,
		})
		return server.Run(ctx)
	}

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	if host == "" {
		host = a.cfg.Server.Host
	}
	if port == 0 {
		port = a.cfg.Server.Port
	}

	webServer := web.NewServer(web.ServerConfig{
		Host:      host,
		Port:      port,
		Config:    a.cfg,
		Registry:  a.registry,
		Scheduler: scheduler,
		Searcher:  searcher,
		Logger:    a.logger,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- webServer.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}
