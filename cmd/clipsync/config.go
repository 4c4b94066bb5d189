package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/localpeer"
	"go.klb.dev/clipsync/internal/logging"
	"go.klb.dev/clipsync/internal/tcppeer"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPSYNC_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPSYNC_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipsync")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipsync/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/clipsync", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addSyncFlags adds the link and watcher tuning flags shared by listen and
// connect.
func addSyncFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntP("port", "p", tcppeer.DefaultPort, "TCP port")
	f.Duration("accept-timeout", tcppeer.DefaultAcceptTimeout, "bound on one accept wait (listener)")
	f.Duration("dial-timeout", tcppeer.DefaultDialTimeout, "bound on one connection attempt (dialer)")
	f.Duration("retry-delay", tcppeer.DefaultRetryDelay, "pause after a failed bind or dial")
	f.Duration("probe-interval", tcppeer.DefaultProbeInterval, "liveness probe period")
	f.Duration("read-timeout", tcppeer.DefaultReadTimeout, "bound on one socket read")
	f.Duration("write-timeout", tcppeer.DefaultWriteTimeout, "write deadline for frames and probes")
	f.Duration("idle-timeout", 0, "drop a peer silent for this long (0 = never)")
	f.Int("max-attempts", 0, "give up after this many consecutive failed binds/dials (0 = never)")
	f.Duration("poll-interval", localpeer.DefaultPollInterval, "local clipboard poll period")
	f.String("clipboard", "auto", "clipboard backend: auto|native|command|memory")
	f.Bool("resync", false, "send the current clipboard to every newly connected peer")
	f.String("control-socket", "", "control socket path (default: platform IPC path)")
	f.Bool("no-control", false, "do not serve the local control socket")
}

// engineConfig builds the engine configuration from bound flags.
func engineConfig(v *viper.Viper, role tcppeer.Role, host string) (engine.Config, error) {
	cfg := engine.Config{
		Peer: tcppeer.Config{
			Role:          role,
			Host:          host,
			Port:          v.GetInt("port"),
			AcceptTimeout: v.GetDuration("accept-timeout"),
			DialTimeout:   v.GetDuration("dial-timeout"),
			RetryDelay:    v.GetDuration("retry-delay"),
			ProbeInterval: v.GetDuration("probe-interval"),
			ReadTimeout:   v.GetDuration("read-timeout"),
			WriteTimeout:  v.GetDuration("write-timeout"),
			IdleTimeout:   v.GetDuration("idle-timeout"),
			MaxAttempts:   v.GetInt("max-attempts"),
		},
		Watch: localpeer.Config{
			PollInterval: v.GetDuration("poll-interval"),
		},
		ResyncOnConnect: v.GetBool("resync"),
	}
	if err := cfg.Peer.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}
