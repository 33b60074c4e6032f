package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crisos/relayd/internal/config"
	"github.com/crisos/relayd/internal/dialogue"
	"github.com/crisos/relayd/internal/relay"
	"github.com/crisos/relayd/internal/relayclient"
	"github.com/crisos/relayd/internal/session"
	"github.com/crisos/relayd/internal/tui"
)

func serverBaseURL(cfg config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}

func newOperatorClient(cfg config.Config) (*relayclient.Client, error) {
	return newOperatorClientAs(cfg, relay.Actor{Name: "status", Role: relay.RoleAdmin})
}

func newOperatorClientAs(cfg config.Config, actor relay.Actor) (*relayclient.Client, error) {
	token, err := config.APIToken(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}
	return relayclient.NewOperator(serverBaseURL(cfg), token, actor), nil
}

func parseIntervalOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the participant chat client",
	Long: `Start the participant chat client.

Messages go to the dialogue engine until it escalates the conversation,
then through the relay to a human operator. An interrupted session is
revived on the next start with the same conversation id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		conversationID, _ := cmd.Flags().GetString("conversation")
		channel, _ := cmd.Flags().GetString("channel")
		if conversationID == "" {
			conversationID = uuid.NewString()
		}

		relayClient := relayclient.New(serverBaseURL(cfg))
		model := tui.NewChat(tui.ChatOptions{
			ConversationID: conversationID,
			Channel:        channel,
			Relay:          relayClient,
			Dialogue:       dialogue.New(cfg.Dialogue.BaseURL),
			Guard:          session.NewGuard(cfg.Storage.DataDir, relayClient),
			PollInterval:   parseIntervalOr(cfg.Relay.MessagePollInterval, 2*time.Second),
		})

		_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	chatCmd.Flags().String("conversation", "", "conversation id (default: generated)")
	chatCmd.Flags().String("channel", "web", "reported contact channel")
}

// --- console ---

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the operator console",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		operator, _ := cmd.Flags().GetString("operator")
		admin, _ := cmd.Flags().GetBool("admin")
		if operator == "" {
			operator = os.Getenv("USER")
		}
		if operator == "" {
			return fmt.Errorf("--operator is required")
		}

		actor := relay.Actor{Name: operator, Role: relay.RoleOperator}
		if admin {
			actor.Role = relay.RoleAdmin
		}

		client, err := newOperatorClientAs(cfg, actor)
		if err != nil {
			return err
		}

		model := tui.NewConsole(tui.ConsoleOptions{
			Client:             client,
			Actor:              actor,
			QueuePollInterval:  parseIntervalOr(cfg.Relay.QueuePollInterval, 5*time.Second),
			ThreadPollInterval: parseIntervalOr(cfg.Relay.MessagePollInterval, 2*time.Second),
		})

		_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	consoleCmd.Flags().String("operator", "", "operator name (default: $USER)")
	consoleCmd.Flags().Bool("admin", false, "act with admin privileges")
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List the handoff queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		client, err := newOperatorClient(cfg)
		if err != nil {
			return err
		}

		entries, err := client.Queue(cmd.Context(), status)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No handoff requests.")
			return nil
		}

		for _, e := range entries {
			marker := " "
			if e.NewActivity {
				marker = colorize(colorYellow, "!")
			}
			line := fmt.Sprintf("%s #%-4d %-6s %-9s %-12s %s",
				marker, e.ID,
				colorize(riskColor(e.RiskLevel), string(e.RiskLevel)),
				e.Status, e.CrisisType, e.ConversationID)
			if e.AssignedTo != "" {
				line += " -> " + e.AssignedTo
			}
			fmt.Println(line)
		}
		return nil
	},
}

func riskColor(level relay.RiskLevel) string {
	switch level {
	case relay.RiskHigh:
		return colorRed
	case relay.RiskMedium:
		return colorYellow
	default:
		return colorGreen
	}
}

func init() {
	queueCmd.Flags().String("status", "", "filter by status (open, assigned, closed)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a single configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		value, err := config.GetKey(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
