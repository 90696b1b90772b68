package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"backlogagent/internal/brain"
	"backlogagent/internal/cli"
	"backlogagent/internal/config"
	"backlogagent/internal/domain"
	"backlogagent/internal/gateway"
	"backlogagent/internal/secrets"
	"backlogagent/internal/signals"
	"backlogagent/internal/tooling"
)

const defaultConfigPath = "backlog-agent.yaml"

// version is set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.2.0" ./cmd/backlog-agent
var version string

// buildMeta holds version and build metadata.
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(v string) buildMeta {
	if v == "" {
		v = "dev"
	}
	return buildMeta{Version: v, GoOS: runtime.GOOS, GoArch: runtime.GOARCH}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("backlog-agent %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

// Test seams. Production leaves them at their defaults.
var (
	getenv        = os.Getenv
	signalContext = signals.NotifyContext
	openSecrets   = secrets.Default
)

// exitCodeErr carries an exit code for the process.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with args and returns the exit code.
func runApp(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(newBuildMeta(version))
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		if errors.Is(err, brain.ErrEmptyPrompt) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:           "backlog-agent",
		Short:         "Turns natural-language requests into backlog issues",
		Long:          "backlog-agent runs a reasoning loop that calls remote tools over JSON-RPC to file issues in a configured repository.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return runServe(cmd)
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().StringP("config", "c", "", "config file (JSON or YAML); default $BACKLOG_AGENT_CONFIG or "+defaultConfigPath)
	root.PersistentFlags().String("catalog", "", "YAML file declaring extra remote tools")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runServe(cmd) },
	}

	askCmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Handle a single request and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().Bool("transcript", false, "print the full conversation as JSON after the answer")

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the reasoning engine",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	toolsCmd.Flags().Bool("remote", false, "ask the remote executor for its catalog (tools/list)")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and report each section",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			if code := cli.RunCheck(configPath(cmd), fix, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config if missing")

	root.AddCommand(serveCmd, askCmd, toolsCmd, checkCmd, newSecretsCommand())
	return root
}

// flagValue reads a local or inherited persistent flag. cmd.Flags() only
// carries persistent flags once the command has been executed.
func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func configPath(cmd *cobra.Command) string {
	if p := flagValue(cmd, "config"); p != "" {
		return p
	}
	if p := getenv("BACKLOG_AGENT_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadApp reads and validates configuration, merges the optional catalog and
// assembles the agent.
func loadApp(cmd *cobra.Command) (*cli.App, *slog.Logger, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, nil, err
	}
	if catalog := flagValue(cmd, "catalog"); catalog != "" {
		declared, err := tooling.LoadCatalogFile(catalog)
		if err != nil {
			return nil, nil, err
		}
		cfg.Tools = append(cfg.Tools, declared...)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Infra)
	getSecret := config.ChainSecrets(config.EnvSecrets(getenv), config.StoreSecrets(openSecrets))
	app, err := cli.NewApp(cfg, logger, getSecret)
	if err != nil {
		return nil, nil, err
	}
	return app, logger, nil
}

func runServe(cmd *cobra.Command) error {
	app, logger, err := loadApp(cmd)
	if err != nil {
		return err
	}
	srv, err := gateway.NewServer(&app.Config.Gateway, app.Brain, gateway.WithLogger(logger))
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return srv.Run(ctx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	app, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	answer, conv, err := app.Brain.HandleWithTranscript(ctx, strings.Join(args, " "))
	if showTranscript, _ := cmd.Flags().GetBool("transcript"); showTranscript && conv != nil {
		defer printTranscript(cmd.OutOrStdout(), conv)
	}
	if err != nil {
		if f, ok := domain.AsFailure(err); ok {
			return fmt.Errorf("%s: %s", f.Kind, f.Message)
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

func printTranscript(w io.Writer, conv *domain.Conversation) {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "transcript: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

func runTools(cmd *cobra.Command, args []string) error {
	app, _, err := loadApp(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		tools, err := app.Transport.ListTools(ctx)
		if err != nil {
			return err
		}
		for _, t := range tools {
			fmt.Fprintf(out, "%s\t%s\n", t.Name, t.Description)
		}
		return nil
	}
	for _, spec := range app.Registry.Catalog() {
		params := make([]string, 0, len(spec.Params))
		for _, p := range spec.Params {
			name := p.Name + ":" + p.Type
			if p.Required {
				name += "*"
			}
			params = append(params, name)
		}
		fmt.Fprintf(out, "%s(%s)\t%s\n", spec.Name, strings.Join(params, ", "), spec.Description)
	}
	return nil
}

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage provider API keys in the encrypted store",
		Long:  "Keys such as anthropic_api_key are looked up in the environment first, then in the encrypted store.",
	}
	setCmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret read from the first line of stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("secrets set: read value: %w", err)
			}
			value := strings.TrimSpace(line)
			if value == "" {
				return errors.New("secrets set: empty value")
			}
			store, err := openSecrets()
			if err != nil {
				return err
			}
			if err := store.Set(strings.ToLower(args[0]), value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s.\n", strings.ToLower(args[0]))
			return nil
		},
	}
	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSecrets()
			if err != nil {
				return err
			}
			return store.Delete(strings.ToLower(args[0]))
		},
	}
	cmd.AddCommand(setCmd, deleteCmd)
	return cmd
}
