package terminal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/term"

	"ftpshell/jobs"
	"ftpshell/transfer"
)

// Client is what the shell drives. *session.Session implements it.
type Client interface {
	Get(remote, local string) (int, error)
	Reget(remote, local string) (int, error)
	Put(local, remote string) (int, error)
	List(ctx context.Context, dir string, w io.Writer) error
	Pwd(ctx context.Context) (string, error)
	Cwd(ctx context.Context, dir string) error
	Mkdir(ctx context.Context, dir string) error
	Delete(ctx context.Context, name string) error
	Mode() transfer.Mode
	SetMode(m transfer.Mode)
	Reap() []jobs.Outcome
	Jobs() []jobs.Job
	Shutdown(ctx context.Context, onWait func(active int)) ([]jobs.Outcome, error)
}

// Command represents a parsed command
type Command struct {
	Name string
	Args []string
}

// ShellOption configures a Shell.
type ShellOption func(*Shell)

// WithIO replaces stdin and stdout. A reader that is not a terminal makes the
// shell read plain lines instead of running the interactive prompt.
func WithIO(in io.Reader, out io.Writer) ShellOption {
	return func(s *Shell) {
		s.in = in
		s.out = out
	}
}

func WithLogger(l *zap.Logger) ShellOption {
	return func(s *Shell) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithCompleter(c *CommandCompleter) ShellOption {
	return func(s *Shell) {
		if c != nil {
			s.completer = c
		}
	}
}

// Shell reads commands, runs them against a Client and reports finished
// background jobs before every prompt.
type Shell struct {
	client    Client
	theme     *ThemeManager
	completer *CommandCompleter
	logger    *zap.Logger
	in        io.Reader
	out       io.Writer

	ctx      context.Context
	commands map[string]func(args []string) error
	done     bool
	err      error
}

func NewShell(client Client, theme *ThemeManager, opts ...ShellOption) *Shell {
	s := &Shell{
		client:    client,
		theme:     theme,
		completer: NewCommandCompleter(),
		logger:    zap.NewNop(),
		in:        os.Stdin,
		out:       os.Stdout,
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.commands = s.commandTable()
	return s
}

// Done reports whether quit has run.
func (s *Shell) Done() bool {
	return s.done
}

// Run loops until quit or end of input. End of input quits the same way
// the quit command does: it waits for background jobs first.
func (s *Shell) Run(ctx context.Context) error {
	s.ctx = ctx
	s.theme.GetTextColor().Fprintln(s.out, "Commands: get reget put ls/dir/list pwd cd mkdir delete jobs mode theme clear help quit")
	fmt.Fprintln(s.out)

	var result *multierror.Error
	if s.interactive() {
		s.runPrompt()
	} else if err := s.runLines(); err != nil {
		result = multierror.Append(result, fmt.Errorf("reading commands: %w", err))
	}
	if !s.done {
		s.quit()
	}
	if s.err != nil {
		result = multierror.Append(result, s.err)
	}
	return result.ErrorOrNil()
}

func (s *Shell) interactive() bool {
	in, ok := s.in.(*os.File)
	if !ok || s.out != os.Stdout {
		return false
	}
	return term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func (s *Shell) runPrompt() {
	s.reap()
	p := prompt.New(
		func(line string) {
			s.Execute(line)
			if !s.done {
				s.reap()
			}
		},
		s.completer.Completer,
		prompt.OptionTitle("ftpshell"),
		prompt.OptionPrefix("ftp> "),
		prompt.OptionPrefixTextColor(s.theme.PromptPrefixColor()),
		prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
		prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionCompletionWordSeparator(" "),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return s.done }),
	)
	p.Run()
}

func (s *Shell) runLines() error {
	scanner := bufio.NewScanner(s.in)
	for !s.done && s.ctx.Err() == nil {
		s.reap()
		s.theme.GetPromptColor().Fprint(s.out, "ftp> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		s.Execute(scanner.Text())
	}
	return nil
}

// Execute runs one command line.
func (s *Shell) Execute(input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}

	cmd := parseCommand(input)
	handler, ok := s.commands[strings.ToLower(cmd.Name)]
	if !ok {
		s.theme.GetErrorColor().Fprintf(s.out, "Unknown command: %s\n", cmd.Name)
		return
	}
	if err := handler(cmd.Args); err != nil {
		s.logger.Debug("command failed", zap.String("command", cmd.Name), zap.Error(err))
		s.theme.GetErrorColor().Fprintf(s.out, "[error] %v\n", err)
	}
}

func parseCommand(input string) Command {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return Command{}
	}

	cmd := Command{
		Name: parts[0],
		Args: parts[1:],
	}

	// Join quoted arguments that contain spaces.
	for i := 0; i < len(cmd.Args); i++ {
		if !strings.HasPrefix(cmd.Args[i], "\"") {
			continue
		}
		if len(cmd.Args[i]) > 1 && strings.HasSuffix(cmd.Args[i], "\"") {
			cmd.Args[i] = strings.Trim(cmd.Args[i], "\"")
			continue
		}
		for j := i + 1; j < len(cmd.Args); j++ {
			if strings.HasSuffix(cmd.Args[j], "\"") {
				cmd.Args[i] = strings.Trim(strings.Join(cmd.Args[i:j+1], " "), "\"")
				cmd.Args = append(cmd.Args[:i+1], cmd.Args[j+1:]...)
				break
			}
		}
	}

	return cmd
}

func (s *Shell) commandTable() map[string]func(args []string) error {
	list := func(args []string) error {
		var buf bytes.Buffer
		err := s.client.List(s.ctx, arg(args, 0), &buf)
		s.out.Write(buf.Bytes())
		if err == nil {
			s.completer.UpdateFromListing(buf.String())
		}
		return err
	}
	quit := func([]string) error {
		s.quit()
		return nil
	}

	return map[string]func([]string) error{
		"get": func(args []string) error {
			if len(args) == 0 {
				s.usage("get <remote> [local]")
				return nil
			}
			return s.submitted(s.client.Get(args[0], arg(args, 1)))
		},
		"reget": func(args []string) error {
			if len(args) == 0 {
				s.usage("reget <remote> [local]")
				return nil
			}
			return s.submitted(s.client.Reget(args[0], arg(args, 1)))
		},
		"put": func(args []string) error {
			if len(args) == 0 {
				s.usage("put <local> [remote]")
				return nil
			}
			return s.submitted(s.client.Put(args[0], arg(args, 1)))
		},
		"ls":   list,
		"dir":  list,
		"list": list,
		"pwd": func([]string) error {
			dir, err := s.client.Pwd(s.ctx)
			if err != nil {
				return err
			}
			s.theme.GetTextColor().Fprintln(s.out, dir)
			return nil
		},
		"cd": func(args []string) error {
			if len(args) == 0 {
				s.usage("cd <dir>")
				return nil
			}
			if err := s.client.Cwd(s.ctx, args[0]); err != nil {
				return err
			}
			s.completer.ClearRemote()
			return nil
		},
		"mkdir": func(args []string) error {
			if len(args) == 0 {
				s.usage("mkdir <dir>")
				return nil
			}
			return s.client.Mkdir(s.ctx, args[0])
		},
		"delete": func(args []string) error {
			if len(args) == 0 {
				s.usage("delete <file>")
				return nil
			}
			return s.client.Delete(s.ctx, args[0])
		},
		"jobs": func([]string) error {
			return JobsTable(s.out, s.client.Jobs())
		},
		"mode": func(args []string) error {
			if len(args) > 0 {
				if m, err := transfer.ParseMode(args[0]); err == nil {
					s.client.SetMode(m)
					s.theme.GetSuccessColor().Fprintf(s.out, "[ok] %s\n", m)
					return nil
				}
			}
			s.theme.GetTextColor().Fprintf(s.out, "Mode: %s\n", s.client.Mode())
			return nil
		},
		"theme": func(args []string) error {
			if len(args) == 0 {
				s.theme.GetTextColor().Fprintf(s.out, "Theme: %s (available: %s)\n",
					s.theme.GetThemeName(), strings.Join(ThemeNames(), ", "))
				return nil
			}
			if err := s.theme.SetTheme(strings.ToLower(args[0])); err != nil {
				return err
			}
			s.theme.GetSuccessColor().Fprintf(s.out, "[ok] theme %s\n", s.theme.GetThemeName())
			return nil
		},
		"clear": func([]string) error {
			var c *exec.Cmd
			if runtime.GOOS == "windows" {
				c = exec.Command("cmd", "/C", "cls")
			} else {
				c = exec.Command("clear")
			}
			c.Stdout = s.out
			return c.Run()
		},
		"help": func([]string) error {
			for _, sg := range s.completer.commands {
				s.theme.GetInfoColor().Fprintf(s.out, "  %-8s", sg.Text)
				s.theme.GetTextColor().Fprintln(s.out, sg.Description)
			}
			return nil
		},
		"quit": quit,
		"exit": quit,
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func (s *Shell) usage(text string) {
	s.theme.GetTextColor().Fprintf(s.out, "Usage: %s\n", text)
}

func (s *Shell) submitted(id int, err error) error {
	var capErr *jobs.CapacityError
	if errors.As(err, &capErr) {
		s.theme.GetErrorColor().Fprintf(s.out, "[error] %v\n", capErr)
		return nil
	}
	if err != nil {
		return err
	}
	s.theme.GetSuccessColor().Fprintf(s.out, "[ok] ID=%d\n", id)
	return nil
}

func (s *Shell) reap() {
	s.printOutcomes(s.client.Reap())
}

func (s *Shell) printOutcomes(outcomes []jobs.Outcome) {
	for _, o := range outcomes {
		c := s.theme.GetSuccessColor()
		if !o.Success() {
			c = s.theme.GetErrorColor()
		}
		c.Fprintf(s.out, "[done] ID=%d exit=%d\n", o.Job.ID, o.ExitStatus)
		if o.Err != nil {
			s.theme.GetErrorColor().Fprintf(s.out, "       %v\n", o.Err)
			continue
		}
		s.theme.GetTextColor().Fprintf(s.out, "       %s %s, %s in %s\n",
			o.Job.Kind, o.Job.RemotePath, formatSize(o.Result.Bytes), o.Result.Elapsed.Round(time.Millisecond))
	}
}

// quit waits for every background job, then disconnects.
func (s *Shell) quit() {
	s.done = true
	s.theme.GetInfoColor().Fprintln(s.out, "[closing]")

	outcomes, err := s.client.Shutdown(s.ctx, func(active int) {
		s.theme.GetInfoColor().Fprintf(s.out, "[waiting] %d active\n", active)
	})
	s.printOutcomes(outcomes)
	if err != nil {
		s.err = err
		s.theme.GetErrorColor().Fprintf(s.out, "[error] %v\n", err)
		return
	}
	s.theme.GetSuccessColor().Fprintln(s.out, "[ok] disconnected")
}
