package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const commandTimeout = 2 * time.Second

// ErrNoTool is returned by NewCommand when no clipboard tool is on PATH.
var ErrNoTool = errors.New("no clipboard tool found (pbcopy, wl-copy, xclip, xsel)")

// Tool is a pair of external commands that read and write the clipboard.
type Tool struct {
	Name  string
	Read  []string
	Write []string
}

// defaultTools is the probe order. Wayland wins over X11 when both are
// present since xclip under XWayland misses native Wayland selections.
func defaultTools() []Tool {
	tools := []Tool{
		{Name: "pbcopy", Read: []string{"pbpaste"}, Write: []string{"pbcopy"}},
		{Name: "wl-copy", Read: []string{"wl-paste", "--no-newline"}, Write: []string{"wl-copy"}},
		{Name: "xclip", Read: []string{"xclip", "-selection", "clipboard", "-o"}, Write: []string{"xclip", "-selection", "clipboard"}},
		{Name: "xsel", Read: []string{"xsel", "--clipboard", "--output"}, Write: []string{"xsel", "--clipboard", "--input"}},
	}
	if runtime.GOOS == "windows" {
		tools = append([]Tool{{
			Name:  "powershell",
			Read:  []string{"powershell", "-NoProfile", "-Command", "Get-Clipboard -Raw"},
			Write: []string{"clip"},
		}}, tools...)
	}
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		tools = dropTool(tools, "wl-copy")
	}
	return tools
}

func dropTool(tools []Tool, name string) []Tool {
	out := tools[:0]
	for _, t := range tools {
		if t.Name != name {
			out = append(out, t)
		}
	}
	return out
}

// Command shells out to a clipboard tool for every Read and Write.
type Command struct {
	tool Tool
}

// NewCommand returns a backend using the first tool whose binaries are on PATH.
func NewCommand() (*Command, error) {
	for _, t := range defaultTools() {
		if lookPath(t.Read[0]) && lookPath(t.Write[0]) {
			return &Command{tool: t}, nil
		}
	}
	return nil, ErrNoTool
}

// NewCommandWith returns a backend using an explicit tool.
func NewCommandWith(t Tool) (*Command, error) {
	if len(t.Read) == 0 || len(t.Write) == 0 {
		return nil, fmt.Errorf("clipboard tool %q: read and write commands are required", t.Name)
	}
	return &Command{tool: t}, nil
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func (c *Command) Name() string { return "command (" + c.tool.Name + ")" }

func (c *Command) Read() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.tool.Read[0], c.tool.Read[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// wl-paste and xclip exit non-zero on an empty selection.
		if isEmptySelection(stderr.String()) {
			return "", nil
		}
		return "", c.fail("read", err, stderr.String())
	}
	text := stdout.String()
	if runtime.GOOS == "windows" {
		text = strings.TrimSuffix(text, "\r\n")
	}
	return text, nil
}

func (c *Command) Write(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.tool.Write[0], c.tool.Write[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return c.fail("write", err, stderr.String())
	}
	return nil
}

func (c *Command) Close() {}

func (c *Command) fail(op string, err error, stderr string) error {
	if s := strings.TrimSpace(stderr); s != "" {
		err = fmt.Errorf("%w: %s", err, s)
	}
	return &ClipboardError{Op: op, Backend: c.Name(), Err: err}
}

func isEmptySelection(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "nothing is copied") ||
		strings.Contains(s, "no selection") ||
		strings.Contains(s, "target string not available")
}
