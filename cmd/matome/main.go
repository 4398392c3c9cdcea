// Package main is the matome CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/matome/internal/blueprint"
	"github.com/hyperjump/matome/internal/cli"
	"github.com/hyperjump/matome/internal/config"
	"github.com/hyperjump/matome/internal/embedding"
	"github.com/hyperjump/matome/internal/engine"
	"github.com/hyperjump/matome/internal/generation"
	"github.com/hyperjump/matome/internal/keyword"
	"github.com/hyperjump/matome/internal/matcher"
	"github.com/hyperjump/matome/internal/storage"
	"github.com/hyperjump/matome/internal/task"
	"github.com/hyperjump/matome/internal/version"
	"github.com/hyperjump/matome/internal/watcher"
	"github.com/hyperjump/matome/pkg/utils"
)

var buildVersion = "dev"

const defaultConfigPath = "/usr/local/etc/matome/config.yaml"

// loadConfig loads config from path. When path is the default, a
// config.yaml in the current directory wins (for development), so running
// matome from the project dir uses the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "init":
		runInit()
	case "submit":
		runSubmit()
	case "merge":
		runMerge()
	case "tasks":
		runTasks()
	case "cancel":
		runCancel()
	case "commit":
		runCommit()
	case "structure":
		runStructure()
	case "history":
		runHistory()
	case "rollback":
		runRollback()
	case "render":
		runRender()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "config":
		runConfig()
	case "version", "--version", "-v":
		fmt.Printf("matome version %s\n", buildVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Usage: matome <command> [flags] [args]

Document commands:
  init <document>              create a document from the default blueprint
  submit <document> [file]     stage fragments from file (or stdin) into sections
  merge <document> <section>   start merging the next staged fragment
  commit <document> <section>  commit a merge result as a new version
  structure <document>         show the section tree
  history <document>           show the version log
  rollback <document> <n>      restore version n as a new version
  render <document>            print the current document body

Task commands:
  tasks [task-id]              list merge tasks, or show one
  cancel <task-id>             cancel a pending or running merge task

System commands:
  status                       storage and index statistics
  watch                        watch the workspace for manual edits
  config --init                write a default config file
  version                      print version

Common flags: -config <path>, -output text|json
`)
}

// components holds the wired engine and everything it owns.
type components struct {
	Store     storage.Store
	Workspace *storage.Workspace
	Engine    *engine.Engine
	Config    *config.Config
	Logger    *zap.Logger
}

// Close releases components in reverse construction order.
func (c *components) Close() {
	if c.Engine != nil {
		if err := c.Engine.Close(); err != nil {
			c.Logger.Warn("engine close failed", zap.Error(err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Logger.Warn("storage close failed", zap.Error(err))
		}
	}
	_ = c.Logger.Sync()
}

// initializeComponents wires the full engine stack from config.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	workspace, err := storage.NewWorkspace(cfg.Storage.WorkspaceDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}

	embedder, err := embedding.NewOllamaEmbedder(embedding.OllamaOptions{
		ServerURL:  cfg.Embedding.ServerURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		RateLimit:  cfg.Embedding.RateLimit,
		RateBurst:  cfg.Embedding.RateBurst,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	cache := embedding.NewEmbeddingCache(cfg.Embedding.CacheSize)
	index := embedding.NewIndex(embedder, cache, store, cfg.Storage.VectorIndexDir,
		embedding.WithLogger(logger))

	titles, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}

	registry, err := blueprint.NewRegistry(cfg.Blueprints.Dir, blueprint.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load blueprints: %w", err)
	}

	generator, err := generation.NewOllamaGenerator(generation.OllamaOptions{
		ServerURL: cfg.Generation.ServerURL,
		Model:     cfg.Generation.Model,
		Timeout:   time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
		RateLimit: cfg.Generation.RateLimit,
		RateBurst: cfg.Generation.RateBurst,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	match := matcher.New(index, titles, registry, matcher.Options{
		AcceptThreshold: cfg.Matching.AcceptThreshold,
		FuzzyEnabled:    cfg.Matching.FuzzyOrDefault(),
		Fuzziness:       cfg.Matching.Fuzziness,
		MinKeywordScore: cfg.Matching.MinKeywordScore,
		MaxSuggestions:  cfg.Matching.MaxSuggestions,
	}, matcher.WithLogger(logger))

	orchestrator := task.NewOrchestrator(task.NewStore(), generator,
		task.WithLogger(logger),
		task.WithQueueSize(cfg.Orchestrator.QueueSize),
		task.WithRetention(time.Duration(cfg.Orchestrator.RetainMinutes)*time.Minute))

	versions := version.NewManager(store,
		version.WithLogger(logger), version.WithWorkspace(workspace))

	eng := engine.New(engine.Options{
		Versions:     versions,
		Index:        index,
		Titles:       titles,
		Matcher:      match,
		Orchestrator: orchestrator,
		Blueprints:   registry,
		Logger:       logger,
	})

	return &components{
		Store:     store,
		Workspace: workspace,
		Engine:    eng,
		Config:    cfg,
		Logger:    logger,
	}, nil
}

// setup parses common flags and wires components for a command.
func setup(name string, args []string, extra func(*flag.FlagSet)) (*components, *flag.FlagSet) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	if extra != nil {
		extra(fs)
	}
	_ = fs.Parse(args)

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolvedPath))

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return comps, fs
}

func fail(comps *components, format string, args ...any) {
	comps.Close()
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// readInput returns the content of path, or stdin when path is empty or "-".
func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func parseFormat(value string) cli.OutputFormat {
	format, err := cli.ParseFormat(value)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runInit() {
	var title *string
	comps, fs := setup("init", os.Args[2:], func(fs *flag.FlagSet) {
		title = fs.String("title", "", "document title (defaults to the document name)")
	})
	defer comps.Close()
	if fs.NArg() < 1 {
		fail(comps, "Usage: matome init [flags] <document>")
	}
	document := fs.Arg(0)
	docTitle := *title
	if docTitle == "" {
		docTitle = document
	}
	number, err := comps.Engine.InitDocument(context.Background(), document, docTitle)
	if err != nil {
		fail(comps, "Init failed: %v", err)
	}
	fmt.Printf("Created document %q at version %d (%s)\n",
		document, number, comps.Workspace.Path(document))
}

func runSubmit() {
	var output *string
	comps, fs := setup("submit", os.Args[2:], func(fs *flag.FlagSet) {
		output = fs.String("output", "text", "output format: text or json")
	})
	defer comps.Close()
	if fs.NArg() < 1 {
		fail(comps, "Usage: matome submit [flags] <document> [file]")
	}
	raw, err := readInput(fs.Arg(1))
	if err != nil {
		fail(comps, "%v", err)
	}
	results, err := comps.Engine.SubmitFragments(context.Background(), fs.Arg(0), raw)
	if err != nil {
		fail(comps, "Submit failed: %v", err)
	}
	_ = cli.WriteMatchResults(os.Stdout, results, parseFormat(*output))
}

func runMerge() {
	var wait *bool
	var output *string
	comps, fs := setup("merge", os.Args[2:], func(fs *flag.FlagSet) {
		wait = fs.Bool("wait", false, "poll until the task reaches a terminal state")
		output = fs.String("output", "text", "output format: text or json")
	})
	defer comps.Close()
	if fs.NArg() < 2 {
		fail(comps, "Usage: matome merge [flags] <document> <section>")
	}
	ctx := context.Background()
	id, err := comps.Engine.StartMerge(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		fail(comps, "Merge failed: %v", err)
	}

	snapshot, err := comps.Engine.PollTask(id)
	if err != nil {
		fail(comps, "Poll failed: %v", err)
	}
	if *wait {
		for !snapshot.Terminal() {
			time.Sleep(200 * time.Millisecond)
			if snapshot, err = comps.Engine.PollTask(id); err != nil {
				fail(comps, "Poll failed: %v", err)
			}
		}
	}
	_ = cli.WriteTask(os.Stdout, snapshot, parseFormat(*output))
}

func runTasks() {
	var output *string
	comps, fs := setup("tasks", os.Args[2:], func(fs *flag.FlagSet) {
		output = fs.String("output", "text", "output format: text or json")
	})
	defer comps.Close()
	format := parseFormat(*output)
	if fs.NArg() > 0 {
		snapshot, err := comps.Engine.PollTask(fs.Arg(0))
		if err != nil {
			fail(comps, "Poll failed: %v", err)
		}
		_ = cli.WriteTask(os.Stdout, snapshot, format)
		return
	}
	_ = cli.WriteTaskList(os.Stdout, comps.Engine.ListTasks(), format)
}

func runCancel() {
	comps, fs := setup("cancel", os.Args[2:], nil)
	defer comps.Close()
	if fs.NArg() < 1 {
		fail(comps, "Usage: matome cancel <task-id>")
	}
	if err := comps.Engine.CancelTask(fs.Arg(0)); err != nil {
		fail(comps, "Cancel failed: %v", err)
	}
	fmt.Println("Cancellation requested.")
}

func runCommit() {
	var taskID *string
	comps, fs := setup("commit", os.Args[2:], func(fs *flag.FlagSet) {
		taskID = fs.String("task", "", "take the merged body from a completed task")
	})
	defer comps.Close()
	if fs.NArg() < 2 {
		fail(comps, "Usage: matome commit [flags] <document> <section> [file]")
	}
	document, section := fs.Arg(0), fs.Arg(1)

	var body string
	if *taskID != "" {
		snapshot, err := comps.Engine.PollTask(*taskID)
		if err != nil {
			fail(comps, "Poll failed: %v", err)
		}
		if snapshot.Result == nil {
			fail(comps, "Task %s has no result (status %s)", *taskID, snapshot.Status)
		}
		body = snapshot.Result.MergedBody
	} else {
		var err error
		if body, err = readInput(fs.Arg(2)); err != nil {
			fail(comps, "%v", err)
		}
	}

	number, err := comps.Engine.CommitSection(context.Background(), document, section, body)
	if err != nil {
		fail(comps, "Commit failed: %v", err)
	}
	fmt.Printf("Committed %q as version %d of %q\n", section, number, document)
}

func runStructure() {
	var output *string
	comps, fs := setup("structure", os.Args[2:], func(fs *flag.FlagSet) {
		output = fs.String("output", "text", "output format: text or json")
	})
	defer comps.Close()
	if fs.NArg() < 1 {
		fail(comps, "Usage: matome structure [flags] <document>")
	}
	sections, err := comps.Engine.GetStructure(context.Background(), fs.Arg(0))
	if err != nil {
		fail(comps, "Structure failed: %v", err)
	}
	_ = cli.WriteStructure(os.Stdout, sections, parseFormat(*output))
}

func runHistory() {
	var output *string
	comps, fs := setup("history", os.Args[2:], func(fs *flag.FlagSet) {
		output = fs.String("output", "text", "output format: text or json")
	})
	defer comps.Close()
	if fs.NArg() < 1 {
		fail(comps, "Usage: matome history [flags] <document>")
	}
	versions, err := comps.Engine.GetVersionHistory(context.Background(), fs.Arg(0))
	if err != nil {
		fail(comps, "History failed: %v", err)
	}
	_ = cli.WriteHistory(os.Stdout, versions, parseFormat(*output))
}

func runRollback() {
	comps, fs := setup("rollback", os.Args[2:], nil)
	defer comps.Close()
	if fs.NArg() < 2 {
		fail(comps, "Usage: matome rollback <document> <version>")
	}
	target, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		fail(comps, "Version must be a number: %v", err)
	}
	number, err := comps.Engine.Rollback(context.Background(), fs.Arg(0), target)
	if err != nil {
		fail(comps, "Rollback failed: %v", err)
	}
	fmt.Printf("Rolled back to version %d as new version %d\n", target, number)
}

func runRender() {
	var annotated *bool
	comps, fs := setup("render", os.Args[2:], func(fs *flag.FlagSet) {
		annotated = fs.Bool("annotated", false, "interleave version annotations")
	})
	defer comps.Close()
	if fs.NArg() < 1 {
		fail(comps, "Usage: matome render [flags] <document>")
	}
	body, err := comps.Engine.RenderDocument(context.Background(), fs.Arg(0), *annotated)
	if err != nil {
		fail(comps, "Render failed: %v", err)
	}
	fmt.Print(body)
}

func runStatus() {
	comps, _ := setup("status", os.Args[2:], nil)
	defer comps.Close()
	ctx := context.Background()

	docs, err := comps.Store.CountDocuments(ctx)
	if err != nil {
		fail(comps, "Status failed: %v", err)
	}
	versions, err := comps.Store.CountVersions(ctx)
	if err != nil {
		fail(comps, "Status failed: %v", err)
	}
	usage, err := storage.DiskUsageBytes(
		comps.Config.Storage.DatabasePath,
		comps.Config.Storage.WorkspaceDir,
		comps.Config.Storage.VectorIndexDir,
		comps.Config.Storage.KeywordIndexDir,
	)
	if err != nil {
		fail(comps, "Status failed: %v", err)
	}

	fmt.Printf("Documents: %d\n", docs)
	fmt.Printf("Versions:  %d\n", versions)
	fmt.Printf("Tasks:     %d\n", len(comps.Engine.ListTasks()))
	fmt.Printf("Disk:      %.1f MiB\n", float64(usage)/(1024*1024))
	fmt.Printf("Workspace: %s\n", comps.Config.Storage.WorkspaceDir)
}

func runWatch() {
	comps, _ := setup("watch", os.Args[2:], nil)
	defer comps.Close()
	cfg := comps.Config
	logger := comps.Logger

	onChange := func(path string) {
		document := comps.Workspace.DocumentForPath(path)
		if document == "" {
			return
		}
		body, ok, err := comps.Workspace.Read(document)
		if err != nil || !ok {
			logger.Warn("failed to read edited document",
				zap.String("path", path), zap.Error(err))
			return
		}
		number, err := comps.Engine.ManualEdit(context.Background(), document, body)
		if err != nil {
			logger.Warn("manual edit commit failed",
				zap.String("document", document), zap.Error(err))
			return
		}
		logger.Info("manual edit committed",
			zap.String("document", document), zap.Int("version", number))
	}
	onRemove := func(path string) {
		if document := comps.Workspace.DocumentForPath(path); document != "" {
			logger.Warn("workspace file removed; document kept in storage",
				zap.String("document", document))
		}
	}

	watchOpts := []watcher.WatcherOption{
		watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond),
	}
	if cfg.Debug {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	w := watcher.NewWatcher(cfg.Storage.WorkspaceDir, cfg.Watch.Extensions,
		onChange, onRemove, watchOpts...)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := w.Start(watchCtx); err != nil {
		fail(comps, "Failed to start watcher: %v", err)
	}
	fmt.Printf("Watching %s (Ctrl-C to stop)\n", cfg.Storage.WorkspaceDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	w.Stop()
}

func runConfig() {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	initConfig := fs.Bool("init", false, "write a default config file")
	_ = fs.Parse(os.Args[2:])

	if *initConfig {
		if _, err := os.Stat(*configPath); err == nil {
			fmt.Fprintf(os.Stderr, "Config already exists at %s\n", *configPath)
			os.Exit(1)
		}
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		if dir := filepath.Dir(*configPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to create config dir: %v\n", err)
				os.Exit(1)
			}
		}
		if err := config.Save(*configPath, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default config to %s\n", *configPath)
		return
	}

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config: %s\n", resolvedPath)
	fmt.Printf("  database:  %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("  workspace: %s\n", cfg.Storage.WorkspaceDir)
	fmt.Printf("  embedding: %s (%s, %dd)\n",
		cfg.Embedding.ServerURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	fmt.Printf("  generation: %s (%s)\n", cfg.Generation.ServerURL, cfg.Generation.Model)
	fmt.Printf("  accept threshold: %.2f\n", cfg.Matching.AcceptThreshold)
}
