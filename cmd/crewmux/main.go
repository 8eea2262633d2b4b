package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/crewmux/agent"
	"github.com/hrygo/crewmux/bridge"
	"github.com/hrygo/crewmux/chat/channels/telegram"
	"github.com/hrygo/crewmux/coord"
	"github.com/hrygo/crewmux/internal/logging"
	"github.com/hrygo/crewmux/internal/profile"
	"github.com/hrygo/crewmux/internal/version"
	"github.com/hrygo/crewmux/metrics"
	"github.com/hrygo/crewmux/mux"
	"github.com/hrygo/crewmux/server"
)

var (
	rootCmd = &cobra.Command{
		Use:   "crewmux",
		Short: `A chat-to-terminal bridge: hire, focus, and talk to a crew of coding agents living in tmux sessions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only load .env for direct binary execution (not when running as systemd service)
			// Systemd deployments carry their environment in the unit file
			if !isRunningAsSystemdService() {
				// Try to load .env file from current directory (ignore error if file doesn't exist)
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := &profile.Profile{
				Mode:          viper.GetString("mode"),
				Addr:          viper.GetString("addr"),
				Port:          viper.GetInt("port"),
				Data:          viper.GetString("data"),
				SessionsRoot:  viper.GetString("sessions-root"),
				SessionPrefix: viper.GetString("session-prefix"),
				BotToken:      viper.GetString("bot-token"),
				AdminChatID:   viper.GetInt64("admin-chat-id"),
				AgentCommand:  viper.GetString("agent-cmd"),
				LogLevel:      viper.GetString("log-level"),
				Version:       version.GetCurrentVersion(viper.GetString("mode")),
			}
			instanceProfile.FromEnv()
			if err := instanceProfile.Validate(); err != nil {
				panic(err)
			}
			logging.Init(instanceProfile.LogLevel)

			ctx, cancel := context.WithCancel(context.Background())

			channel, err := telegram.NewChannel(&telegram.Config{
				BotToken:     instanceProfile.BotToken,
				MaxFileBytes: instanceProfile.MaxMediaMB << 20,
			})
			if err != nil {
				cancel()
				slog.Error("failed to reach the chat transport", "error", err)
				return
			}

			// Session-scoped environment lets the stop hook find its way
			// back without inheriting anything from this process.
			sessionEnv := map[string]string{
				coord.EnvPort:        strconv.Itoa(instanceProfile.Port),
				coord.EnvPrefix:      instanceProfile.SessionPrefix,
				coord.EnvSessionsDir: instanceProfile.SessionsRoot,
				coord.EnvBridgeURL:   fmt.Sprintf("http://127.0.0.1:%d", instanceProfile.Port),
			}
			adapter, err := mux.NewAdapter(instanceProfile.SessionPrefix, sessionEnv)
			if err != nil {
				cancel()
				slog.Error("failed to locate the multiplexer", "error", err)
				return
			}

			runner, err := agent.NewRunner(adapter, instanceProfile.AgentCommand, instanceProfile.AgentArgs, instanceProfile.SandboxCommand)
			if err != nil {
				cancel()
				slog.Error("failed to resolve the agent CLI", "error", err)
				return
			}

			store := coord.NewStore(instanceProfile.SessionsRoot, instanceProfile.Data)
			exporter := metrics.NewExporter(metrics.DefaultConfig())
			svc := bridge.NewService(instanceProfile, channel, adapter, runner, store, exporter)
			s := server.NewServer(instanceProfile, svc, exporter)

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			// The default signal sent by the `kill` command is SIGTERM,
			// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				cancel()
				slog.Error("failed to start server", "error", err)
				return
			}

			if err := svc.Adopt(ctx); err != nil {
				slog.Warn("bridge: adoption incomplete, starting with an empty crew", "error", err)
			}

			if instanceProfile.WebhookURL != "" {
				if err := channel.SetWebhook(ctx, instanceProfile.PublicURL(), instanceProfile.WebhookSecret, true); err != nil {
					slog.Error("telegram: webhook registration failed", "error", err)
				}
			}
			if info, err := channel.WebhookInfo(ctx); err == nil && info.URL != "" {
				slog.Info("telegram: webhook state", "url", info.URL, "pending_updates", info.PendingUpdateCount)
			}
			runner.CheckMinVersion(ctx, instanceProfile.MinAgentVersion)

			printGreetings(instanceProfile, channel.BotName())

			go func() {
				sig := <-c
				slog.Info("shutting down", "signal", sig.String(), "initiated_by", shutdownInitiator())
				svc.Shutdown(ctx)
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28280)
	viper.SetDefault("session-prefix", "cm-")
	viper.SetDefault("agent-cmd", "claude")
	viper.SetDefault("log-level", "info")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of bridge, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the boundary server")
	rootCmd.PersistentFlags().Int("port", 28280, "port of the boundary server")
	rootCmd.PersistentFlags().String("data", "", "node data directory")
	rootCmd.PersistentFlags().String("sessions-root", "", "root of the per-worker coordination dirs")
	rootCmd.PersistentFlags().String("session-prefix", "cm-", "multiplexer session name prefix")
	rootCmd.PersistentFlags().String("bot-token", "", "chat bot token")
	rootCmd.PersistentFlags().Int64("admin-chat-id", 0, "pre-set admin chat id (0 learns it from the first message)")
	rootCmd.PersistentFlags().String("agent-cmd", "claude", "agent CLI started inside each worker session")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	if err := viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("data", rootCmd.PersistentFlags().Lookup("data")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("sessions-root", rootCmd.PersistentFlags().Lookup("sessions-root")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("session-prefix", rootCmd.PersistentFlags().Lookup("session-prefix")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("bot-token", rootCmd.PersistentFlags().Lookup("bot-token")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("admin-chat-id", rootCmd.PersistentFlags().Lookup("admin-chat-id")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("agent-cmd", rootCmd.PersistentFlags().Lookup("agent-cmd")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("crewmux")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// The token is the one secret every deployment must set; bind it
	// explicitly so it resolves even when the flag is never touched.
	if err := viper.BindEnv("bot-token", "CREWMUX_BOT_TOKEN"); err != nil {
		panic(err)
	}
	if err := viper.BindEnv("admin-chat-id", "CREWMUX_ADMIN_CHAT_ID"); err != nil {
		panic(err)
	}
}

func printGreetings(profile *profile.Profile, botName string) {
	fmt.Printf("crewmux %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	// Bridge information
	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Sessions root: %s\n", profile.SessionsRoot)
	fmt.Printf("Session prefix: %s\n", profile.SessionPrefix)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if botName != "" {
		fmt.Printf("Bot: @%s\n", botName)
	}

	// Connection information
	if len(profile.Addr) == 0 {
		fmt.Printf("Boundary server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Boundary server running on %s:%d\n", profile.Addr, profile.Port)
	}
	if profile.WebhookURL != "" {
		fmt.Printf("Webhook: %s\n", profile.PublicURL())
	} else {
		fmt.Println("Webhook: not registered (set CREWMUX_WEBHOOK_URL to receive updates)")
	}

	fmt.Println()
	fmt.Printf("Source code: %s\n", "https://github.com/hrygo/crewmux")
	fmt.Println("\nHappy shipping!")
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	// Check if invoked by systemd (environment variables set by systemd)
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
