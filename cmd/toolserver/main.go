package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"backlogagent/internal/config"
	"backlogagent/internal/domain"
	"backlogagent/internal/gateway"
	"backlogagent/internal/rpc"
	"backlogagent/internal/signals"
	"backlogagent/internal/toolserver"
)

// Test seams. Production leaves them at their defaults.
var (
	getenv        = os.Getenv
	signalContext = signals.NotifyContext
	listen        = net.Listen
	// onListen is called with the bound address once the server accepts connections.
	onListen = func(string) {}
)

func runApp(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand()
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "toolserver",
		Short:        "Reference remote tool executor (JSON-RPC 2.0 over HTTP)",
		Long:         "toolserver serves tools/list and tools/call on " + rpc.DefaultPath + ", filing issues on GitHub or GitLab.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runServer,
	}
	root.Flags().String("addr", ":8090", "listen address")
	root.Flags().String("provider", "", "issue tracker: github or gitlab (default $TOOLSERVER_PROVIDER or github)")
	root.Flags().String("base-url", "", "API base URL for GitHub Enterprise or self-hosted GitLab")
	root.Flags().String("log-format", "text", "log format: text or json")
	root.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	return root
}

func runServer(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	baseURL, _ := cmd.Flags().GetString("base-url")
	logFormat, _ := cmd.Flags().GetString("log-format")
	logLevel, _ := cmd.Flags().GetString("log-level")
	provider, _ := cmd.Flags().GetString("provider")
	if provider == "" {
		provider = getenv("TOOLSERVER_PROVIDER")
	}

	logger := config.NewLogger(cmd.ErrOrStderr(), domain.InfraConfig{LogFormat: logFormat, LogLevel: logLevel})
	tracker, err := toolserver.NewTracker(provider, trackerToken(provider), baseURL)
	if err != nil {
		return err
	}
	handler, err := toolserver.NewHandler(tracker, toolserver.WithLogger(logger))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultPath, handler)
	mux.HandleFunc("GET /healthz", gateway.Healthz)

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return serve(ctx, addr, mux, logger)
}

func trackerToken(provider string) string {
	if strings.EqualFold(provider, "gitlab") {
		return getenv("GITLAB_TOKEN")
	}
	return getenv("GITHUB_TOKEN")
}

func serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	ln, err := listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("toolserver listen: %w", err)
	}
	logger.Info("toolserver listening", "addr", ln.Addr().String(), "path", rpc.DefaultPath)
	onListen(ln.Addr().String())
	return gateway.Serve(ctx, &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}, ln)
}
