package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/cuesync/go/internal/script"
)

// ErrQuit is returned by Execute for the quit command
var ErrQuit = errors.New("quit")

// Console interprets line commands against a Controller
type Console struct {
	ctl      *Controller
	out      io.Writer
	readFile func(name string) ([]byte, error)
}

// NewConsole writes command output to out
func NewConsole(ctl *Controller, out io.Writer) *Console {
	return &Console{ctl: ctl, out: out, readFile: os.ReadFile}
}

const consoleHelp = `commands:
  load <file>     load a script file
  play [leadMs]   start playback, optionally leadMs in the future
  pause           pause playback
  seek <line>     jump to an absolute line
  rel <delta>     move by delta lines
  top | end       jump to the first or last line
  speed <lpm>     set speed in lines per minute
  font <px>       set font size
  mirror <h|v|off>
  kf              request a keyframe
  status          show the ghost position and link quality
  quit`

// Execute runs one command line
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case "quit", "exit":
		return ErrQuit
	case "load":
		if len(args) != 1 {
			return errors.New("usage: load <file>")
		}
		content, err := c.readFile(args[0])
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		version, err := c.ctl.Load(ctx, string(content))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "loaded %s as version %d\n", args[0], version)
		return nil
	case "play":
		var lead time.Duration
		if len(args) > 0 {
			ms, err := strconv.Atoi(args[0])
			if err != nil || ms < 0 {
				return fmt.Errorf("invalid lead %q", args[0])
			}
			lead = time.Duration(ms) * time.Millisecond
		}
		return c.ctl.Play(ctx, lead)
	case "pause":
		return c.ctl.Pause(ctx)
	case "seek":
		if len(args) != 1 {
			return errors.New("usage: seek <line>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid line %q", args[0])
		}
		return c.ctl.SeekAbs(n)
	case "rel":
		if len(args) != 1 {
			return errors.New("usage: rel <delta>")
		}
		d, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid delta %q", args[0])
		}
		return c.ctl.SeekRel(d)
	case "top":
		return c.ctl.JumpTop()
	case "end":
		return c.ctl.JumpEnd()
	case "speed", "font":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <value>", cmd)
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid %s %q", cmd, args[0])
		}
		patch := script.ParamsPatch{SpeedLinesPerMinute: &v}
		if cmd == "font" {
			patch = script.ParamsPatch{FontSize: &v}
		}
		return c.ctl.SetParams(ctx, patch)
	case "mirror":
		if len(args) != 1 {
			return errors.New("usage: mirror <h|v|off>")
		}
		h, v := false, false
		switch args[0] {
		case "h":
			h = true
		case "v":
			v = true
		case "off":
		default:
			return fmt.Errorf("invalid mirror %q", args[0])
		}
		return c.ctl.SetParams(ctx, script.ParamsPatch{MirrorHorizontal: &h, MirrorVertical: &v})
	case "kf":
		return c.ctl.RequestKeyframe()
	case "status":
		s := c.ctl.Status()
		fmt.Fprintf(c.out, "version=%d phase=%s line=%.2f quality=%s kf_age=%s offset=%s pending=%d\n",
			s.Version, s.Phase, s.Position, s.Quality, s.KeyframeAge.Round(time.Millisecond),
			s.Offset, s.Pending)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// Run executes commands read from in until EOF, quit or ctx is done. Command
// errors are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return scanner.Err()
			}
			err := c.Execute(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}
