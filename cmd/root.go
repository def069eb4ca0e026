package cmd

import (
	"context"
	log2 "log"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/hookbus/hookbus/config"
	"github.com/hookbus/hookbus/internal/aux"
	"github.com/hookbus/hookbus/internal/hook"
	"github.com/hookbus/hookbus/loggers/cli"
	"github.com/hookbus/hookbus/metrics"
)

// Version is the semantic version string reported to peers at connect
// time and printed by the version subcommand. Overridden at build time
// via -ldflags.
var Version = "0.0.0-dev"

var (
	configPath = config.DefaultLocation
	debug      = false
	noConfig   = false
)

var rootCommand = &cobra.Command{
	Use:   "hookbus",
	Short: "Runs a hook process participating in the distributed event bus.",
	PreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
		initLogging()
	},
	Run: rootCmdRun,
}

func Execute() {
	if err := rootCommand.Execute(); err != nil {
		log2.Fatalf("failed to execute command: %s", err)
	}
}

func init() {
	rootCommand.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	rootCommand.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run the hook in debug mode")
	rootCommand.PersistentFlags().BoolVar(&noConfig, "no-config", false, "skip loading configuration from disk and run with defaults plus flags")

	rootCommand.Flags().String("hook-name", "", "override the configured hook name")
	rootCommand.Flags().String("hook-type", "", "override the configured hook type")
	rootCommand.Flags().Int("hook-port", 0, "override the configured hook port")
	rootCommand.Flags().String("hook-host", "", "override the configured hook host")
	rootCommand.Flags().Bool("quiet", false, "suppress the per-emit logging hook")

	rootCommand.AddCommand(versionCommand)
}

func rootCmdRun(cmd *cobra.Command, _ []string) {
	printLogo()

	c := config.Get()
	if v, _ := cmd.Flags().GetString("hook-name"); v != "" {
		c.Name = v
	}
	if v, _ := cmd.Flags().GetString("hook-type"); v != "" {
		c.Type = v
	}
	if v, _ := cmd.Flags().GetInt("hook-port"); v != 0 {
		c.HookPort = v
	}
	if v, _ := cmd.Flags().GetString("hook-host"); v != "" {
		c.HookHost = v
	}
	if v, _ := cmd.Flags().GetBool("quiet"); v {
		c.Quiet = v
	}

	opts := hook.Options{
		Name:    c.Name,
		Type:    c.Type,
		Version: Version,
		Host:    c.HookHost,
		Port:    c.HookPort,
		Socket:  c.HookSocket,
		Debug:   c.Debug,
		Quiet:   c.Quiet,
	}
	for _, tc := range c.Transports {
		built, err := aux.Build(tc.Type, aux.Options(tc.Options))
		if err != nil {
			log.WithField("transport", tc.Type).WithError(err).Fatal("failed to build auxiliary transport")
		}
		opts.Transports = append(opts.Transports, aux.Configured{Type: tc.Type, Options: aux.Options(tc.Options), Transport: built})
	}
	for _, spec := range c.Hooks {
		opts.Children = append(opts.Children, hook.ChildSpec{Name: spec.Name, Type: spec.Type, Args: spec.Args})
	}

	h := hook.New(opts)

	installDiagnosticLogging(h)

	if c.Metrics.Enabled {
		go metrics.Initialize(c.Metrics.Bind, make(chan bool))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := h.Start(ctx); err != nil {
		log.WithField("error", err).Fatal("failed to start hook")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if err := h.Stop(); err != nil {
		log.WithField("error", err).Warn("error while stopping hook")
	}
}

// Reads the configuration from the disk and sets up the global
// singleton with all the configuration values.
func initConfig() {
	if noConfig {
		c, err := config.NewAtPath(configPath)
		if err != nil {
			log2.Fatalf("cmd/root: failed to build default configuration: %s", err)
		}
		c.NoConfig = true
		config.Set(c)
	} else {
		if !strings.HasPrefix(configPath, "/") {
			d, err := os.Getwd()
			if err != nil {
				log2.Fatalf("cmd/root: could not determine directory: %s", err)
			}
			configPath = path.Clean(path.Join(d, configPath))
		}
		if err := config.FromFile(configPath); err != nil {
			if os.IsNotExist(err) {
				c, derr := config.NewAtPath(configPath)
				if derr != nil {
					log2.Fatalf("cmd/root: failed to build default configuration: %s", derr)
				}
				config.Set(c)
			} else {
				log2.Fatalf("cmd/root: error while reading configuration file: %s", err)
			}
		}
	}
	if debug && !config.Get().Debug {
		config.SetDebugViaFlag(debug)
	}
}

// Configures the global apex/log logger so it can be called from any
// location in the code without passing around a logger instance.
func initLogging() {
	log.SetLevel(log.InfoLevel)
	if config.Get().Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetHandler(multi.New(cli.Default))
}

func installDiagnosticLogging(h *hook.Hook) {
	h.On("error::unknown", func(data interface{}, reply func(err error, result interface{})) {
		log.WithField("error", data).Warn("hookbus: unhandled runtime error")
	})
}

func printLogo() {
	colorstring.Println(`
__ [blue][bold]hookbus[reset] _____/___/_______
\_____\    \/\/    /   /
   \___\          /   /
        \___/\___/___/
`)
}
