package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/pkg/conversation"
)

// errQuit ends the run after the q command.
var errQuit = errors.New("quit requested")

// controller is the part of the engine driven from the console.
type controller interface {
	Connect(ctx context.Context) error
	StartListening() error
	ForceResponse() error
	ToggleMute() bool
}

// console reads commands from stdin and prints session changes to out.
type console struct {
	out     io.Writer
	updates chan engine.Snapshot

	// printer state, owned by print
	state engine.State
	voice engine.VoiceState
	seen  map[string]string
	err   string
}

func newConsole(out io.Writer) *console {
	return &console{
		out:     out,
		updates: make(chan engine.Snapshot, 32),
		seen:    make(map[string]string),
	}
}

// observe is the engine observer. It never blocks; when the printer falls
// behind, intermediate snapshots are dropped.
func (c *console) observe(s engine.Snapshot) {
	select {
	case c.updates <- s:
	default:
		slog.Debug("console: dropped status update")
	}
}

// print renders snapshots until ctx is done.
func (c *console) print(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-c.updates:
			for _, line := range c.render(s) {
				fmt.Fprintln(c.out, line)
			}
		}
	}
}

// render returns the lines describing what changed since the previous
// snapshot.
func (c *console) render(s engine.Snapshot) []string {
	var lines []string
	if s.State != c.state {
		c.state = s.State
		lines = append(lines, "[session "+s.State.String()+"]")
	}
	if s.ErrMessage != "" && s.ErrMessage != c.err {
		lines = append(lines, "[error] "+s.ErrMessage)
	}
	c.err = s.ErrMessage
	if s.Voice != c.voice {
		c.voice = s.Voice
		lines = append(lines, "["+s.Voice.String()+"]")
	}
	for _, m := range s.Messages {
		if m.Text == conversation.Placeholder || c.seen[m.ID] == m.Text {
			continue
		}
		c.seen[m.ID] = m.Text
		lines = append(lines, formatMessage(m))
	}
	if len(s.Messages) == 0 && len(c.seen) > 0 {
		clear(c.seen)
	}
	return lines
}

func formatMessage(m conversation.Message) string {
	switch {
	case m.Kind == conversation.KindTool:
		return "  · " + m.Text
	case m.Role == conversation.RoleUser:
		return "you: " + m.Text
	default:
		return "assistant: " + m.Text
	}
}

// run executes stdin commands until q, ctx is done or input ends. At the
// end of input it waits for ctx so a detached process keeps running.
func (c *console) run(ctx context.Context, in io.Reader, ctl controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(c.out, "commands: m mute, r respond, l listen, c reconnect, q quit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if err := c.command(ctx, strings.TrimSpace(line), ctl); err != nil {
				return err
			}
		}
	}
}

func (c *console) command(ctx context.Context, cmd string, ctl controller) error {
	var err error
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "q":
		return errQuit
	case "m":
		if ctl.ToggleMute() {
			fmt.Fprintln(c.out, "[muted]")
		} else {
			fmt.Fprintln(c.out, "[unmuted]")
		}
	case "r":
		err = ctl.ForceResponse()
	case "l":
		err = ctl.StartListening()
	case "c":
		err = ctl.Connect(ctx)
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "[%s failed] %v\n", cmd, err)
	}
	return nil
}
