// Package console bridges terminal input and output for the interactive
// session. Input lines are surfaced on a channel, one event per line, and
// printed messages are rewritten around the readline prompt so received
// traffic never mangles the line being typed.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
)

// Color selects the ANSI foreground color for a printed message.
type Color string

// The color set used for session output.
const (
	Default Color = ""
	Red     Color = "\033[31m"
	Green   Color = "\033[32m"
	Yellow  Color = "\033[33m"
	Blue    Color = "\033[34m"
)

// colorReset restores the terminal's default foreground color.
const colorReset = "\033[39m"

// Line is a single line of user input.
type Line struct {
	Text string

	// Piped is true when the line came from redirected stdin rather than
	// an interactive terminal session.
	Piped bool
}

// Config controls console construction.
type Config struct {
	// Prompt is displayed before the input line in interactive mode.
	Prompt string

	// Colors enables ANSI color output.
	Colors bool

	// HistoryFile persists interactive input history. Empty disables it.
	HistoryFile string

	// Input overrides os.Stdin. Setting it forces piped (non-terminal)
	// mode, which is how tests drive the console.
	Input io.Reader

	// Output overrides os.Stdout in piped mode.
	Output io.Writer
}

// Console owns the terminal during a session. One goroutine reads input and
// delivers it through Lines; the Done channel closes when input ends.
type Console struct {
	prompt string
	colors bool

	// rl is non-nil only in interactive mode
	rl  *readline.Instance
	out io.Writer

	lines chan Line
	done  chan struct{}

	closeOnce sync.Once
	paused    atomic.Bool
}

// New creates a console. When stdin is a terminal it runs an interactive
// readline session; otherwise it consumes stdin line by line until EOF.
func New(cfg Config) (*Console, error) {
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}

	c := &Console{
		prompt: cfg.Prompt,
		lines:  make(chan Line),
		done:   make(chan struct{}),
	}

	if cfg.Input == nil && isatty.IsTerminal(os.Stdin.Fd()) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          cfg.Prompt,
			HistoryFile:     cfg.HistoryFile,
			InterruptPrompt: "^C",
			Listener:        &pauseGuard{paused: &c.paused},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize terminal input: %w", err)
		}
		c.rl = rl
		c.out = rl.Stdout()
		c.colors = cfg.Colors && isatty.IsTerminal(os.Stdout.Fd())
		go c.readlineLoop()
		return c, nil
	}

	in := cfg.Input
	if in == nil {
		in = os.Stdin
	}
	if cfg.Output != nil {
		c.out = cfg.Output
		c.colors = cfg.Colors
	} else {
		c.out = os.Stdout
		c.colors = cfg.Colors && isatty.IsTerminal(os.Stdout.Fd())
	}
	go c.scanLoop(in)
	return c, nil
}

// Lines delivers each input line as it is entered.
func (c *Console) Lines() <-chan Line {
	return c.lines
}

// Done closes when input has terminated: EOF on piped stdin, or Ctrl+D /
// Ctrl+C in an interactive session.
func (c *Console) Done() <-chan struct{} {
	return c.done
}

// Print writes a message above the prompt. In interactive mode the readline
// writer clears the in-progress input line, prints the message, and redraws
// the prompt with whatever was typed.
func (c *Console) Print(msg string, color Color) {
	fmt.Fprintln(c.out, c.colorize(msg, color))
}

// Prompt re-displays the input prompt after a send.
func (c *Console) Prompt() {
	if c.rl != nil {
		c.rl.SetPrompt(c.prompt)
	}
}

// Clear erases the current terminal line and blanks the prompt until the
// next Prompt call. The escape sequence goes through the readline writer,
// which serializes it against prompt repaints.
func (c *Console) Clear() {
	if c.rl == nil {
		return
	}
	c.rl.SetPrompt("")
	fmt.Fprint(c.out, "\033[2K\r")
}

// Pause suppresses input delivery. In interactive mode any keystroke while
// paused wipes the in-progress line, so nothing can be composed until Resume.
func (c *Console) Pause() {
	c.paused.Store(true)
}

// Resume re-enables input delivery after Pause.
func (c *Console) Resume() {
	c.paused.Store(false)
}

// Close releases the terminal. Safe to call after input has already ended.
func (c *Console) Close() error {
	c.closeDone()
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

func (c *Console) closeDone() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readlineLoop feeds interactive input into the lines channel. Readline
// returns io.EOF on Ctrl+D and ErrInterrupt on Ctrl+C; both end the session.
func (c *Console) readlineLoop() {
	for {
		text, err := c.rl.Readline()
		if err != nil {
			c.closeDone()
			return
		}
		if c.paused.Load() {
			continue
		}
		select {
		case c.lines <- Line{Text: text}:
		case <-c.done:
			return
		}
	}
}

// maxPipedLine bounds a single line of piped input.
const maxPipedLine = 10 * 1024 * 1024

// scanLoop feeds piped input into the lines channel until EOF. Pause does
// not drop piped lines; consumers decide what to do with input that arrives
// while no connection is up.
func (c *Console) scanLoop(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPipedLine)
	for scanner.Scan() {
		select {
		case c.lines <- Line{Text: scanner.Text(), Piped: true}:
		case <-c.done:
			return
		}
	}
	// Scanner finished without error means EOF; anything else is a read
	// failure that must be reported before the session closes.
	if err := scanner.Err(); err != nil {
		c.Print("error: reading input: "+err.Error(), Yellow)
	}
	c.closeDone()
}

func (c *Console) colorize(msg string, color Color) string {
	if !c.colors || color == Default {
		return msg
	}
	return string(color) + msg + colorReset
}

// Sprint wraps msg in the ANSI codes for color. Unlike Console.Print it is
// unconditional; callers decide whether the destination is a terminal.
func Sprint(msg string, color Color) string {
	if color == Default {
		return msg
	}
	return string(color) + msg + colorReset
}

// pauseGuard is a readline listener that wipes the input line on every
// keystroke while the console is paused.
type pauseGuard struct {
	paused *atomic.Bool
}

func (g *pauseGuard) OnChange(line []rune, pos int, key rune) ([]rune, int, bool) {
	if g.paused.Load() {
		return nil, 0, true
	}
	return nil, 0, false
}
