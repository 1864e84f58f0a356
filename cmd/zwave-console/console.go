package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
)

// commandTimeout bounds a single console command.
const commandTimeout = 10 * time.Second

// errQuit ends the read loop.
var errQuit = errors.New("quit")

// Controller is what the console drives.
type Controller interface {
	Subscribe(fn events.Listener) func()
	NetworkInfo() store.NetworkState
	Stats() serialapi.Stats
	ListNodes() ([]*store.Node, error)
	StartInclusion(ctx context.Context, opts inclusion.Options) error
	StopInclusion(ctx context.Context) error
	StartExclusion(ctx context.Context, opts inclusion.Options) error
	StopExclusion(ctx context.Context) error
	InclusionState() inclusion.State
	ExclusionState() inclusion.State
	SendRaw(ctx context.Context, cmd controller.RawCommand) (*controller.RawResponse, error)
	BasicSet(ctx context.Context, node, value uint8) error
}

// Console is an interactive shell over one controller.
type Console struct {
	ctrl Controller
	out  io.Writer
}

func NewConsole(ctrl Controller, out io.Writer) *Console {
	return &Console{ctrl: ctrl, out: out}
}

// Run reads commands until quit, EOF or ctx is done. Controller events are
// printed as they arrive.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "zwave> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		HistoryLimit:    200,
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("help"),
			readline.PcItem("info"),
			readline.PcItem("nodes"),
			readline.PcItem("include", readline.PcItem("hp"), readline.PcItem("nw")),
			readline.PcItem("exclude", readline.PcItem("hp"), readline.PcItem("nw")),
			readline.PcItem("stop"),
			readline.PcItem("send"),
			readline.PcItem("basic"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer rl.Close()

	c.out = rl.Stdout()
	unsub := c.ctrl.Subscribe(c.printEvent)
	defer unsub()

	c.printHelp()
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		if err := c.Exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintln(c.out, "error:", err)
		}
	}
	return nil
}

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd {
	case "help", "?":
		c.printHelp()
		return nil
	case "info", "i":
		return c.cmdInfo()
	case "nodes", "n":
		return c.cmdNodes()
	case "include":
		opts, err := sessionOptions(args)
		if err != nil {
			return err
		}
		if err := c.ctrl.StartInclusion(ctx, opts); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "inclusion started, press the button on the device")
		return nil
	case "exclude":
		opts, err := sessionOptions(args)
		if err != nil {
			return err
		}
		if err := c.ctrl.StartExclusion(ctx, opts); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "exclusion started")
		return nil
	case "stop":
		return c.cmdStop(ctx)
	case "send", "s":
		return c.cmdSend(ctx, args)
	case "basic", "b":
		return c.cmdBasic(ctx, args)
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  info                    controller and link statistics
  nodes                   known nodes
  include [hp] [nw]       start inclusion (high power, network wide)
  exclude [hp] [nw]       start exclusion
  stop                    stop the active inclusion or exclusion
  send <func> [hex]       raw serial API request, e.g. send GetVersion
  basic <node> <value>    Basic Set, value 0-99 or 255
  quit                    exit`)
}

func (c *Console) cmdInfo() error {
	info := c.ctrl.NetworkInfo()
	st := c.ctrl.Stats()
	fmt.Fprintf(c.out, "home id     %s\n", info.HomeIDString())
	fmt.Fprintf(c.out, "controller  node %d\n", info.ControllerID)
	fmt.Fprintf(c.out, "version     %s\n", info.Version)
	fmt.Fprintf(c.out, "nodes       %v\n", info.NodeIDs)
	fmt.Fprintf(c.out, "inclusion   %s\n", c.ctrl.InclusionState())
	fmt.Fprintf(c.out, "exclusion   %s\n", c.ctrl.ExclusionState())
	fmt.Fprintf(c.out, "link        %d sent, %d done, %d timeouts, %d retries, %d rx errors\n",
		st.Submitted, st.Completed, st.Timeouts, st.Retries, st.RxErrors)
	return nil
}

func (c *Console) cmdNodes() error {
	nodes, err := c.ctrl.ListNodes()
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(c.out, "no nodes")
		return nil
	}
	for _, n := range nodes {
		fmt.Fprintf(c.out, "%3d  %-20s  classes=%d values=%d\n", n.ID, n.DisplayName(), len(n.CommandClasses), len(n.Values))
	}
	return nil
}

func (c *Console) cmdStop(ctx context.Context) error {
	switch {
	case c.ctrl.InclusionState() != inclusion.Idle:
		if err := c.ctrl.StopInclusion(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "inclusion stopped")
	case c.ctrl.ExclusionState() != inclusion.Idle:
		if err := c.ctrl.StopExclusion(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "exclusion stopped")
	default:
		fmt.Fprintln(c.out, "no session active")
	}
	return nil
}

func (c *Console) cmdSend(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: send <func> [hex]")
	}
	resp, err := c.ctrl.SendRaw(ctx, controller.RawCommand{
		Function: args[0],
		Payload:  strings.Join(args[1:], ""),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s % X\n", resp.Function, resp.Type, []byte(resp.Payload))
	return nil
}

func (c *Console) cmdBasic(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: basic <node> <value>")
	}
	node, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil || node < 1 || node > 232 {
		return fmt.Errorf("invalid node id %q", args[0])
	}
	value, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil || (value > 99 && value != 255) {
		return fmt.Errorf("invalid value %q, want 0-99 or 255", args[1])
	}
	if err := c.ctrl.BasicSet(ctx, uint8(node), uint8(value)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "node %d set to %d\n", node, value)
	return nil
}

func (c *Console) printEvent(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		data = []byte(err.Error())
	}
	fmt.Fprintf(c.out, "<< %s %s\n", e.Type(), data)
}

func sessionOptions(args []string) (inclusion.Options, error) {
	var opts inclusion.Options
	for _, a := range args {
		switch strings.ToLower(a) {
		case "hp", "high_power":
			opts.HighPower = true
		case "nw", "network_wide":
			opts.NetworkWide = true
		default:
			return opts, fmt.Errorf("unknown option %q, want hp or nw", a)
		}
	}
	return opts, nil
}
