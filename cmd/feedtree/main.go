package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/glabrego/feedtree/internal/app"
	"github.com/glabrego/feedtree/internal/config"
	"github.com/glabrego/feedtree/internal/display"
	"github.com/glabrego/feedtree/internal/downloader"
	"github.com/glabrego/feedtree/internal/storage"
	"github.com/glabrego/feedtree/internal/subscription"
	"github.com/glabrego/feedtree/internal/tree"
	"github.com/glabrego/feedtree/internal/tui"
)

func main() {
	godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	addFolder string
	addFeed   string
	name      string
	parent    int64
	dump      bool
	purge     bool
}

func (o options) batch() bool {
	return o.addFolder != "" || o.addFeed != "" || o.dump || o.purge
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	prefs, err := config.LoadPreferences(cfg.PrefsPath)
	if err != nil {
		fmt.Fprintf(stderr, "warning: could not load preferences (%v), using defaults\n", err)
	}
	cfg = cfg.Apply(prefs)

	var opts options
	flagSet := flag.NewFlagSet("feedtree", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Subscription database path")
	flagSet.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Show debug details and log at debug level")
	flagSet.BoolVar(&cfg.ShowAllCounts, "show-all-counts", cfg.ShowAllCounts, "Show unread/total instead of unread only")
	flagSet.BoolVar(&cfg.DropBesideFeed, "drop-beside-feed", cfg.DropBesideFeed, "Insert next to a feed when dropping onto it")
	flagSet.StringVar(&opts.addFolder, "add-folder", "", "Create a folder with this name and exit")
	flagSet.StringVar(&opts.addFeed, "add-feed", "", "Subscribe to this feed URL and exit")
	flagSet.StringVar(&opts.name, "name", "", "Display name for --add-feed")
	flagSet.Int64Var(&opts.parent, "parent", subscription.RootID, "Parent folder id for --add-folder and --add-feed")
	flagSet.BoolVar(&opts.dump, "dump", false, "Print the subscription tree and exit")
	flagSet.BoolVar(&opts.purge, "purge", false, "Remove trashed subscriptions for good and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "log error: %v\n", err)
		return 1
	}
	defer closeLog()

	repo, err := storage.NewRepository(cfg.DBPath, logger)
	if err != nil {
		fmt.Fprintf(stderr, "storage init error: %v\n", err)
		return 1
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := repo.Init(ctx); err != nil {
		fmt.Fprintf(stderr, "storage schema error: %v\n", err)
		return 1
	}

	pool := downloader.NewPool(downloader.NewHTTPFetcher(cfg.FetchTimeout), cfg.Workers, cfg.QueueSize, logger)
	ctl := app.New(app.Deps{
		Store:  repo,
		Queue:  pool,
		Logger: logger,
		Options: app.Options{
			Display: display.Options{ShowAllCounts: cfg.ShowAllCounts, Debug: cfg.Debug},
			Tree:    tree.Options{DropBesideFeed: cfg.DropBesideFeed},
		},
	})
	if err := ctl.Load(ctx); err != nil {
		fmt.Fprintf(stderr, "cannot load subscriptions: %v\n", err)
		return 1
	}

	if opts.batch() {
		if err := runBatch(ctx, ctl, opts, stdout); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}
	cancel()

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	pool.Start(runCtx)
	defer pool.Close()

	model := tui.NewModel(ctl)
	defer model.Close()
	model.SetPreferencesSaver(func(p config.Preferences) error {
		prefs = prefs.Merge(p)
		return config.SavePreferences(cfg.PrefsPath, prefs)
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(stderr, "tui error: %v\n", err)
		return 1
	}
	return 0
}

func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log %s: %w", cfg.LogPath, err)
	}
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = f.Close() }, nil
}

func runBatch(ctx context.Context, ctl *app.Controller, opts options, stdout io.Writer) error {
	if opts.addFolder != "" {
		e, err := ctl.NewFolder(ctx, opts.addFolder, opts.parent)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created folder %d\n", e.ID)
	}
	if opts.addFeed != "" {
		e, err := ctl.NewFeed(ctx, opts.addFeed, opts.name, opts.parent)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created feed %d\n", e.ID)
	}
	if opts.purge {
		n, err := ctl.Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "purged %d subscriptions\n", n)
	}
	if opts.dump {
		dump(stdout, ctl.Rows())
	}
	return nil
}

func dump(w io.Writer, rows []display.Row) {
	for _, r := range rows {
		marker := "-"
		if r.IsFolder {
			marker = "+"
		}
		fmt.Fprintf(w, "%s%s %s [%d]\n", strings.Repeat("  ", r.Depth), marker, r.Name, r.ID)
	}
}
