package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"clawd/internal/gateway"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// CLIChannel 终端 REPL 渠道：readline 读入，glamour 渲染回复。
// CLIChannel is the terminal REPL: readline in, glamour-rendered replies out.
type CLIChannel struct {
	sender      string
	historyPath string
	out         io.Writer
	wrapWidth   int
}

func NewCLI(sender, historyPath string) *CLIChannel {
	if sender == "" {
		sender = "local"
	}
	return &CLIChannel{
		sender:      sender,
		historyPath: historyPath,
		out:         os.Stdout,
		wrapWidth:   100,
	}
}

func (c *CLIChannel) Name() string { return "cli" }

// PrintToolEvent 渲染工具事件状态行，供网关事件订阅使用。
// PrintToolEvent renders a tool status line; wire it to the gateway bus.
func (c *CLIChannel) PrintToolEvent(e gateway.ToolEvent) {
	switch e.Kind {
	case "tool_start":
		fmt.Fprintln(c.out, toolStyle.Render(fmt.Sprintf("⚙ %s ...", e.Tool)))
	case "tool_end":
		fmt.Fprintln(c.out, mutedStyle.Render(fmt.Sprintf("✓ %s", e.Tool)))
	}
}

func (c *CLIChannel) Run(ctx context.Context, handle HandlerFunc) error {
	input, fallbackErr := newLineInput(c.historyPath)
	if fallbackErr != nil {
		fmt.Fprintln(c.out, mutedStyle.Render("readline unavailable, using basic input"))
	}
	defer input.Close()

	fmt.Fprintln(c.out, mutedStyle.Render("clawd — type /help for commands, exit to quit"))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := input.ReadLine(promptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		reply, err := handle(ctx, gateway.IncomingMessage{
			Channel: c.Name(),
			Sender:  c.sender,
			Content: line,
		})
		if err != nil {
			fmt.Fprintln(c.out, errorStyle.Render("error: "+err.Error()))
			continue
		}
		fmt.Fprintln(c.out, renderMarkdown(reply, c.wrapWidth))
	}
}

// renderMarkdown 渲染失败时原样返回，终端输出永远不空手而归。
// renderMarkdown falls back to the raw text on any renderer failure.
func renderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// --- line input with readline and a plain fallback ---

type lineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

type readlineInput struct {
	instance *readline.Instance
}

func newReadlineInput(historyPath string) (*readlineInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}
	return &readlineInput{instance: instance}, nil
}

func (r *readlineInput) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

func (r *readlineInput) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

type basicLineInput struct {
	reader *bufio.Reader
	out    io.Writer
}

func (b *basicLineInput) ReadLine(prompt string) (string, error) {
	if b.out != nil {
		fmt.Fprint(b.out, prompt)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *basicLineInput) Close() error { return nil }

func newLineInput(historyPath string) (lineInput, error) {
	rl, err := newReadlineInput(historyPath)
	if err == nil {
		return rl, nil
	}
	return &basicLineInput{reader: bufio.NewReader(os.Stdin), out: os.Stdout}, err
}
