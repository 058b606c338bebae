package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomaslejdung/rovlink/pkg/server"
	"github.com/tomaslejdung/rovlink/pkg/settings"
	"github.com/tomaslejdung/rovlink/pkg/transport"
)

var (
	flags flagValues

	// Set during PersistentPreRunE
	config Config
)

var rootCmd = &cobra.Command{
	Use:   "rovlink",
	Short: "rovlink - remote control link over WebRTC with WebSocket fallback",
	Long: `rovlink opens a command channel to a vehicle's command server.

It negotiates a WebRTC data channel through an HTTP offer/answer exchange
and falls back to a WebSocket when that fails. Without a subcommand it
starts the interactive console.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			log.Warnf("failed to load settings, using defaults: %v", err)
		}

		config, err = buildConfig(s, cmd.Flags(), flags)
		if err != nil {
			return err
		}
		return nil
	},
	RunE: runConsole,
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Drive the vehicle from the keyboard",
	Long: `Open a session and send commands from the keyboard.

Key bindings:
  ↑ ↓ ← → / w a s d   Send a command in that direction
  space               Send a stop command (0, 0)
  + / -               Change the command magnitude
  t                   Toggle command processing on the vehicle
  k                   Switch the preferred transport (saved)
  r                   Reconnect with a fresh session
  q / Ctrl+C          Quit

Logs go to ` + consoleLogFile + ` unless --log-file is given.`,
	RunE: runConsole,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a command server that logs received commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := InitLog(config.LogLevel, config.LogFile); err != nil {
			return err
		}
		return runCommandServer(config)
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the effective configuration to the settings file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.Save(config.Settings()); err != nil {
			return err
		}
		path, _ := settings.Path()
		fmt.Printf("Settings saved to %s\n", path)
		return nil
	},
}

func init() {
	flags.register(rootCmd.PersistentFlags())
	serveCmd.Flags().IntVarP(&flags.port, "port", "p", 8080, "command server port")

	rootCmd.AddCommand(consoleCmd, serveCmd, saveCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	logFile := config.LogFile
	if logFile == "" {
		logFile = consoleLogFile
	}
	if err := InitLog(config.LogLevel, logFile); err != nil {
		return err
	}
	defer log.SetOutput(os.Stderr)

	log.Infof("=== rovlink console started (kind %s) ===", config.Kind)
	return RunConsole(config)
}

func runCommandServer(cfg Config) error {
	handler := server.HandlerFuncs{
		Command: func(x, y float64) {
			log.Infof("command x=%v y=%v", x, y)
		},
		Toggle: func() {
			log.Info("toggle_commands")
		},
		Raw: func(msg any) {
			log.Infof("unrecognized frame: %v", msg)
		},
	}

	var opts []server.Option
	if cfg.Loopback {
		opts = append(opts, server.WithAPI(transport.LoopbackAPI()))
	}
	srv := server.NewServer(handler, cfg.ICE().Configuration(), opts...)
	defer srv.Close()

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("Command server on http://localhost%s (offer %s, socket %s)\n", addr, server.OfferPath, server.SocketPath)
	fmt.Println("Press Ctrl+C to stop")
	return srv.StartServer(addr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
