// Package cmd wires configuration, persistence, the AI client and the
// chat engine together behind the binder CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chenadu5299/binder/internal/ai"
	"github.com/chenadu5299/binder/internal/chat"
	"github.com/chenadu5299/binder/internal/config"
	"github.com/chenadu5299/binder/internal/history"
	"github.com/chenadu5299/binder/internal/log"
	"github.com/chenadu5299/binder/internal/tui"
	"github.com/chenadu5299/binder/internal/workspace"
)

var (
	version       = "dev"
	cfgFile       string
	workspaceFlag string
	debugFlag     bool
	cfg           config.Config
)

var rootCmd = &cobra.Command{
	Use:     "binder",
	Short:   "A terminal ui for multi-tab AI chat",
	Long:    `A terminal user interface for streaming AI conversations across multiple tabs, with tool call display and local history.`,
	Version: version,
	RunE:    runApp,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/binder/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging to binder-debug.log")
	rootCmd.Flags().StringVarP(&workspaceFlag, "workspace", "w", "",
		"workspace root directory")

	_ = viper.BindPFlag("workspace_dir", rootCmd.Flags().Lookup("workspace"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("provider", defaults.Provider)
	viper.SetDefault("model.name", defaults.Model.Name)
	viper.SetDefault("model.temperature", defaults.Model.Temperature)
	viper.SetDefault("model.top_p", defaults.Model.TopP)
	viper.SetDefault("model.max_tokens", defaults.Model.MaxTokens)
	viper.SetDefault("ai.request_timeout", defaults.AI.RequestTimeout)
	viper.SetDefault("ai.max_concurrent", defaults.AI.MaxConcurrent)
	viper.SetDefault("history.path", defaults.History.Path)
	viper.SetDefault("ui.show_status_bar", defaults.UI.ShowStatusBar)
	viper.SetDefault("ui.show_tool_calls", defaults.UI.ShowToolCalls)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(dir, "binder"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if dir, dirErr := os.UserConfigDir(); dirErr == nil {
				defaultPath := filepath.Join(dir, "binder", "config.yaml")
				if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
					viper.SetConfigFile(defaultPath)
					_ = viper.ReadInConfig()
				}
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
}

func runApp(cmd *cobra.Command, args []string) error {
	if debugFlag || os.Getenv("BINDER_DEBUG") != "" {
		cleanup, err := log.InitWithTeaLog("binder-debug.log", "binder")
		if err != nil {
			return fmt.Errorf("initializing debug log: %w", err)
		}
		defer cleanup()
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ws, err := workspace.NewService()
	if err != nil {
		return fmt.Errorf("initializing workspace service: %w", err)
	}
	root, err := workspace.Resolve(workspaceFlag, cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("resolving workspace: %w", err)
	}
	if _, err := ws.Open(root); err != nil {
		return fmt.Errorf("opening workspace %s: %w", root, err)
	}

	store := chat.NewStore()
	histSvc, closeHist := openHistory(store)
	if closeHist != nil {
		defer closeHist()
	}

	opts, err := cfg.ProviderOptions()
	if err != nil {
		return fmt.Errorf("resolving provider: %w", err)
	}
	opts.Queue = ai.NewRequestQueue(cfg.MaxConcurrent())
	client := ai.NewHTTPClient(opts)
	defer client.Close()

	engine := chat.NewEngine(chat.EngineOptions{
		Store:     store,
		Client:    client,
		Workspace: ws,
		Model:     cfg.ModelDefaults,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Close()

	if histSvc != nil {
		go histSvc.Run(ctx, engine.Updates().Subscribe(ctx))
	}

	var changes <-chan struct{}
	watcher, err := workspace.NewWatcher(workspace.DefaultWatcherConfig(root))
	if err == nil {
		if ch, startErr := watcher.Start(); startErr == nil {
			changes = ch
			defer func() { _ = watcher.Stop() }()
		} else {
			log.Warn(log.CatWorkspace, "watcher start failed", "error", startErr)
		}
	} else {
		log.Warn(log.CatWorkspace, "watcher unavailable", "error", err)
	}

	model := tui.New(tui.Options{
		Engine:           engine,
		UI:               cfg.UI,
		WorkspaceName:    filepath.Base(root),
		WorkspaceChanges: changes,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// openHistory opens the persistence layer and restores saved tabs.
// Failures degrade to an in-memory session rather than aborting.
func openHistory(store *chat.Store) (*history.Service, func()) {
	db, err := history.NewDB(cfg.HistoryPath())
	if err != nil {
		log.Warn(log.CatHistory, "history unavailable, running without persistence", "error", err)
		return nil, nil
	}
	svc := history.NewService(history.NewRepository(db), store)
	if err := svc.Restore(); err != nil {
		log.Warn(log.CatHistory, "restore failed", "error", err)
	}
	return svc, func() { _ = db.Close() }
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
