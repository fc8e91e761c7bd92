// Package cli assembles the wscat command line: flag parsing, config and
// logger setup, and wiring the console to the right bridge.
package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lawnchairsociety/wscat/internal/bridge"
	"github.com/lawnchairsociety/wscat/internal/config"
	"github.com/lawnchairsociety/wscat/internal/console"
	"github.com/lawnchairsociety/wscat/internal/logger"
	"github.com/lawnchairsociety/wscat/internal/transcript"
)

const version = "1.0.0"

var errConflictingModes = errors.New("use either --listen or --connect")

// rootOptions collects every flag on the root command.
type rootOptions struct {
	listenPort      int
	connectURL      string
	messages        []string
	protocolVersion int
	origin          string
	host            string
	subprotocol     string
	noCheck         bool
	head            bool
	headers         []string
	auth            string
	configPath      string
	recordPath      string
	noColor         bool
}

// NewRootCommand builds the wscat command.
func NewRootCommand() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "wscat",
		Short: "WebSocket cat: bridge a terminal to a websocket connection",
		Long: `wscat bridges your terminal to a websocket connection, either by listening
for a single client (--listen) or by connecting to a server (--connect).
Each line you type is sent as one text message; each received message is
printed as one line.`,
		Version:       version,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd, &opts)
		},
	}

	// SilenceErrors suppresses cobra's own reporting; usage failures are
	// printed here so a malformed invocation never exits without a word.
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		printUsageError(cmd, err.Error())
		return err
	})

	cmd.Flags().IntVarP(&opts.listenPort, "listen", "l", 0, "listen on port")
	cmd.Flags().StringVarP(&opts.connectURL, "connect", "c", "", "connect to a websocket server")
	cmd.Flags().StringArrayVarP(&opts.messages, "message", "m", nil, "message to send once connected; repeatable")
	cmd.Flags().IntVarP(&opts.protocolVersion, "protocol", "p", 0, "optional protocol version")
	cmd.Flags().StringVarP(&opts.origin, "origin", "o", "", "optional origin")
	cmd.Flags().StringVar(&opts.host, "host", "", "optional host")
	cmd.Flags().StringVarP(&opts.subprotocol, "subprotocol", "s", "", "optional subprotocol")
	cmd.Flags().BoolVarP(&opts.noCheck, "no-check", "n", false, "do not check for unauthorized certificates")
	cmd.Flags().BoolVarP(&opts.head, "head", "I", false, "print the handshake response headers (--connect only)")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, "set an HTTP header as name:value; repeatable (--connect only)")
	cmd.Flags().StringVar(&opts.auth, "auth", "", "add basic HTTP authentication header as user:password (--connect only)")
	cmd.Flags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file")
	cmd.Flags().StringVar(&opts.recordPath, "record", "", "record the session to a sqlite transcript file")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	return cmd
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context, which the bridges treat like a console EOF. A non-nil return
// means the process should exit non-zero.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// noArgs rejects positional arguments, reporting them the same way flag
// parse failures are reported.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		printUsageError(cmd, err.Error())
		return err
	}
	return nil
}

func runRoot(cmd *cobra.Command, opts *rootOptions) error {
	if opts.listenPort != 0 && opts.connectURL != "" {
		printUsageError(cmd, errConflictingModes.Error())
		return errConflictingModes
	}
	if opts.listenPort == 0 && opts.connectURL == "" {
		return cmd.Help()
	}
	if opts.listenPort < 0 || opts.listenPort > 65535 {
		err := fmt.Errorf("invalid listen port %d", opts.listenPort)
		printUsageError(cmd, err.Error())
		return err
	}

	logCfg, _ := logger.LoadConfig(opts.configPath)
	if err := logger.Initialize(logCfg); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error: "+err.Error())
		return err
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		logger.Warning("config load failed, using defaults", "path", opts.configPath, "error", err)
	}

	var rec *transcript.Recorder
	if opts.recordPath != "" {
		rec, err = transcript.Open(opts.recordPath)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "error: "+err.Error())
			return err
		}
		defer rec.Close()
		logger.Info("recording session", "path", opts.recordPath)
	}

	con, err := console.New(console.Config{
		Prompt:      cfg.Console.Prompt,
		Colors:      cfg.Console.Colors && !opts.noColor,
		HistoryFile: cfg.Console.HistoryFile,
	})
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error: "+err.Error())
		return err
	}
	defer con.Close()

	bridgeOpts := buildBridgeOptions(opts, cfg)
	ctx := cmd.Context()

	if opts.listenPort != 0 {
		return bridge.NewServer(con, opts.listenPort, bridgeOpts, rec).Run(ctx)
	}
	return bridge.NewClient(con, normalizeTarget(opts.connectURL), bridgeOpts, rec).Run(ctx)
}

// buildBridgeOptions merges flags over config file defaults into the
// connection options handed to a bridge.
func buildBridgeOptions(opts *rootOptions, cfg *config.Config) bridge.Options {
	headers := http.Header{}
	for _, raw := range opts.headers {
		name, value := splitOnce(raw, ":")
		headers.Add(name, strings.TrimSpace(value))
	}
	if opts.auth != "" {
		headers.Set("Authorization", basicAuth(opts.auth))
	}

	origin := opts.origin
	if origin == "" {
		origin = cfg.Connection.Origin
	}
	subprotocol := opts.subprotocol
	if subprotocol == "" {
		subprotocol = cfg.Connection.Subprotocol
	}

	return bridge.Options{
		ProtocolVersion:  opts.protocolVersion,
		Origin:           origin,
		Host:             opts.host,
		Subprotocol:      subprotocol,
		Headers:          headers,
		NoCertCheck:      opts.noCheck || cfg.Connection.NoCheck,
		DumpHeaders:      opts.head,
		Messages:         opts.messages,
		HandshakeTimeout: time.Duration(cfg.Connection.HandshakeTimeoutSeconds) * time.Second,
	}
}

// splitOnce splits s on the first occurrence of sep. A missing separator
// yields the whole string and "".
func splitOnce(s, sep string) (string, string) {
	head, tail, _ := strings.Cut(s, sep)
	return head, tail
}

// normalizeTarget defaults bare host:port targets to the ws scheme.
func normalizeTarget(target string) string {
	if strings.Contains(target, "://") {
		return target
	}
	return "ws://" + target
}

// basicAuth renders user:password credentials as a Basic Authorization
// header value.
func basicAuth(credentials string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// printUsageError reports a usage-level failure on stderr, colored when
// stderr is a terminal.
func printUsageError(cmd *cobra.Command, msg string) {
	out := cmd.ErrOrStderr()
	text := "error: " + msg
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		text = console.Sprint(text, console.Yellow)
	}
	fmt.Fprintln(out, text)
}
