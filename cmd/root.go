package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/cockpit/internal/config"
	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/session"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and showing up as
	// input to the attached session.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

const localConfigPath = ".cockpit/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

// ExitError carries a child's exit code out of Execute so main can
// forward it as the process status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

var rootCmd = &cobra.Command{
	Use:   "cockpit",
	Short: "Host pseudo-terminal sessions for people and test harnesses",
	Long: `cockpit runs commands on pseudo-terminals, keeps a virtual screen for each,
and exposes them to an interactive renderer, a headless JSON-lines bridge for
test harnesses, and a read-only HTTP API. A workflow event stream feeds the
DAG and merge-queue sidebar.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .cockpit/config.yaml, then ~/.config/cockpit/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also COCKPIT_DEBUG=1)")
}

func initConfig() {
	setDefaults(viper.GetViper(), config.Defaults())

	viper.SetEnvPrefix("COCKPIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .cockpit/config.yaml (current directory)
		// 2. ~/.config/cockpit/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else if dir := config.Dir(); dir != "" {
			viper.AddConfigPath(dir)
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}
}

// setDefaults registers every key so env overrides and Unmarshal see the
// full tree even without a config file.
func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("session.shell", d.Session.Shell)
	v.SetDefault("session.rows", d.Session.Rows)
	v.SetDefault("session.cols", d.Session.Cols)
	v.SetDefault("session.scrollback", d.Session.Scrollback)
	v.SetDefault("session.close_grace", d.Session.CloseGrace)
	v.SetDefault("session.tombstone_ttl", d.Session.TombstoneTTL)

	v.SetDefault("events.enabled", d.Events.Enabled)
	v.SetDefault("events.addr", d.Events.Addr)
	v.SetDefault("events.max_line", d.Events.MaxLine)

	v.SetDefault("bridge.enabled", d.Bridge.Enabled)
	v.SetDefault("bridge.network", d.Bridge.Network)
	v.SetDefault("bridge.addr", d.Bridge.Addr)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.addr", d.API.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)

	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
}

// decodeConfig unmarshals and validates v.
func decodeConfig(v *viper.Viper) (config.Config, error) {
	var c config.Config
	if err := v.Unmarshal(&c); err != nil {
		return config.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := config.Validate(c); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// loadConfig fills cfg from the global viper instance.
func loadConfig() error {
	c, err := decodeConfig(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// configPath is the file config edits go to.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	if cfgFile != "" {
		return cfgFile
	}
	if dir := config.Dir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return localConfigPath
}

// setupLogging turns on the debug log when --debug, COCKPIT_DEBUG or
// log.debug asks for it. The returned cleanup is always safe to call.
func setupLogging(prefix string) (func(), error) {
	debug := debugFlag || os.Getenv("COCKPIT_DEBUG") != "" || cfg.Log.Debug
	if !debug {
		return func() {}, nil
	}

	logPath := os.Getenv("COCKPIT_LOG")
	if logPath == "" {
		logPath = cfg.Log.Path
	}
	cleanup, err := log.InitWithTeaLog(logPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
	log.Info(log.CatConfig, "cockpit starting", "version", version, "config", viper.ConfigFileUsed(), "logPath", logPath)
	return cleanup, nil
}

// watchConfig reloads the log level when the config file changes. Other
// settings need a restart.
func watchConfig() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		applyConfigChange(viper.GetViper(), e)
	})
	viper.WatchConfig()
}

func applyConfigChange(v *viper.Viper, e fsnotify.Event) {
	next, err := decodeConfig(v)
	if err != nil {
		log.ErrorErr(log.CatConfig, "ignoring config change", err, "file", e.Name)
		return
	}
	if next.Log.Level != cfg.Log.Level {
		log.SetMinLevel(log.ParseLevel(next.Log.Level))
		log.Info(log.CatConfig, "log level changed", "from", cfg.Log.Level, "to", next.Log.Level)
	}
	cfg.Log.Level = next.Log.Level
}

// sessionOptions maps the session section onto manager options.
func sessionOptions(c config.SessionConfig) session.Options {
	return session.Options{
		Shell:        c.Shell,
		Rows:         c.Rows,
		Cols:         c.Cols,
		Scrollback:   c.Scrollback,
		CloseGrace:   c.CloseGrace,
		TombstoneTTL: c.TombstoneTTL,
	}
}

// launchSpec turns positional args into a launch spec. A single argument
// is a shell command line; more are an executable and its arguments.
func launchSpec(args []string, dir string) session.LaunchSpec {
	spec := session.LaunchSpec{Dir: dir}
	if len(args) == 0 {
		return spec
	}
	spec.Command = args[0]
	if len(args) > 1 {
		spec.Args = args[1:]
	}
	return spec
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
