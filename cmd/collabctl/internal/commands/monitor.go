package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Laffyyy/collabo-tool-sub001/internal/client"
	"github.com/Laffyyy/collabo-tool-sub001/internal/monitor"
)

type MonitorCmd struct {
	Heartbeat    time.Duration `help:"Presence heartbeat interval" default:"30s"`
	IdleTimeout  time.Duration `help:"Log out after this long without input" default:"60s"`
	IdleWarning  time.Duration `help:"Warn after this long without input" default:"45s"`
	PollInterval time.Duration `help:"Session poll interval" default:"10s"`
}

func (m *MonitorCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	c, save, err := globals.authedClient()
	if err != nil {
		return err
	}
	defer save()

	cfg := monitor.DefaultConfig()
	cfg.SessionPollInterval = m.PollInterval
	cfg.IdleWarning = m.IdleWarning
	cfg.IdleTimeout = m.IdleTimeout

	fmt.Fprintln(os.Stdout, "monitoring session; any line counts as activity (commands: extend, keep, dismiss, quit)")
	target, err := runMonitor(ctx, cfg, c, os.Stdin, os.Stdout, m.Heartbeat)
	if err != nil {
		return err
	}
	if target != "" {
		log.Info().Str("redirect", target).Msg("session ended")
	}
	return nil
}

// runMonitor drives a monitor from line-oriented input until the monitor
// redirects, input ends, or ctx is cancelled. It returns the redirect target,
// if any.
func runMonitor(ctx context.Context, cfg monitor.Config, c *client.Client, in io.Reader, out io.Writer, heartbeat time.Duration) (string, error) {
	activity := newLineActivity()
	nav := newExitNavigator(out)
	printer := &statePrinter{out: out}

	mon := monitor.New(cfg, c, c, nav, activity,
		monitor.WithLogger(log.Logger.With().Str("component", "monitor").Logger()),
		monitor.WithStateListener(printer.Print),
	)

	clock := &activityClock{}
	clock.touch(time.Now())
	activity.Subscribe(func(monitor.Activity) { clock.touch(time.Now()) })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mon.StartMonitoring(runCtx)
	defer mon.StopMonitoring()

	go heartbeatLoop(runCtx, c, clock, heartbeat)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-runCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return "", nil
		case <-nav.Done():
			return nav.Target(), nil
		case line, ok := <-lines:
			if !ok {
				return "", nil
			}
			activity.emit(monitor.ActivityKey)
			if quit := handleLine(runCtx, mon, out, line); quit {
				return "", nil
			}
		}
	}
}

func handleLine(ctx context.Context, mon *monitor.Monitor, out io.Writer, line string) bool {
	var err error
	switch strings.ToLower(line) {
	case "extend":
		err = mon.ExtendSession(ctx)
	case "keep":
		err = mon.KeepActive(ctx)
	case "dismiss":
		mon.DismissIdleWarning()
	case "status":
		s := mon.Snapshot()
		fmt.Fprintf(out, "session %s remaining, idle logout in %s\n",
			formatRemaining(s.RemainingTime), formatRemaining(s.IdleRemainingTime))
	case "quit", "exit":
		return true
	}

	if err != nil && !errors.Is(err, monitor.ErrNotMonitoring) {
		fmt.Fprintf(out, "could not extend session: %v\n", err)
	}
	return false
}

func heartbeatLoop(ctx context.Context, c *client.Client, clock *activityClock, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	beat := func() {
		if !clock.due() {
			return
		}
		p, err := c.Heartbeat(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("heartbeat failed")
			}
			return
		}
		log.Debug().Str("status", string(p.Status)).Msg("heartbeat")
	}

	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}
