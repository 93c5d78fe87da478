package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"ftpshell/config"
	"ftpshell/logging"
	"ftpshell/perfmetrics"
	"ftpshell/protocol"
	"ftpshell/session"
	"ftpshell/terminal"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "[error] %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ftpshell <host> [port]",
		Short: "Interactive FTP client with background transfers",
		Long: `ftpshell connects to an FTP server, logs in and reads commands.
get, reget and put run in the background (up to max-jobs at a time) while
the prompt stays usable; quit waits for them before disconnecting.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	cfg.Host = args[0]
	if len(args) == 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		// The event log is optional; carry on without it.
		fmt.Fprintf(os.Stderr, "Warning: event log disabled: %v\n", err)
		logger, closeLog = zap.NewNop(), func() {}
	}
	defer closeLog()

	theme, err := terminal.NewThemeManager(cfg.Theme)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := perfmetrics.New(cfg.Metrics.CSVFile, logger)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Warn("metrics endpoint", zap.Error(err))
				theme.GetErrorColor().Fprintf(os.Stderr, "Warning: metrics endpoint: %v\n", err)
			}
		}()
	}

	stdin := bufio.NewReader(os.Stdin)
	tty := term.IsTerminal(int(os.Stdin.Fd()))

	if cfg.User == "" {
		fmt.Print("Username: ")
		if cfg.User, err = readLine(stdin); err != nil {
			return fmt.Errorf("reading username: %w", err)
		}
	}

	observers := protocol.Observers{logging.NewObserver(logger, "control")}
	if cfg.Transcript {
		observers = append(observers, terminal.NewTranscript(os.Stdout, theme))
	}

	theme.GetInfoColor().Printf("[connecting] %s\n", cfg.Address())
	sess, err := session.Connect(ctx, cfg, passwordPrompt(stdin, tty), session.Options{
		Observer: observers,
		Logger:   logger,
		Recorder: metrics,
	})
	if err != nil {
		logger.Error("login failed", zap.String("server", cfg.Address()), zap.Error(err))
		return err
	}
	theme.GetSuccessColor().Println("[ok] authenticated")

	// Piped input keeps using the buffered reader so lines read ahead while
	// prompting for credentials are not lost.
	var in io.Reader = stdin
	if tty {
		in = os.Stdin
	}
	shell := terminal.NewShell(sess, theme,
		terminal.WithIO(in, os.Stdout),
		terminal.WithLogger(logger))
	return shell.Run(ctx)
}

// passwordPrompt asks for the password only when the server requests one.
// Terminals get a hidden prompt.
func passwordPrompt(stdin *bufio.Reader, tty bool) protocol.PasswordFunc {
	return func() (string, error) {
		fmt.Print("Password: ")
		if tty {
			pass, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return "", fmt.Errorf("reading password: %w", err)
			}
			return string(pass), nil
		}
		pass, err := readLine(stdin)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return pass, nil
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
