package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ctagard/debugctl/internal/cliargs"
	"github.com/ctagard/debugctl/internal/event"
	"github.com/ctagard/debugctl/internal/plugin"
	"github.com/ctagard/debugctl/pkg/types"
)

// closeSlack is added to the shutdown grace period for stopping the loop
const closeSlack = time.Second

func newAttachCmd(v *viper.Viper) *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "attach <target>",
		Short: "Attach to a process, core file or remote server and follow the session",
		Long: `Attach starts one session and prints its events until it finishes.

Targets:
  <pid>                                              a local process
  <exe>,core=<file>[,kit=<kit>]                      a core file
  <exe>,server=<host:port>[,kit=<kit>][,terminal]    a remote debug server
  core=<file>                                        a core file alone

Interrupting debugctl stops the session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := cliargs.ParseDebugTarget(args[0])
			if err != nil {
				return err
			}
			params.CppEngineType = types.ParseBackendKind(backend)
			return runSession(cmd, v, params)
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", "auto", "native debugger: auto, gdb, lldb, cdb, pdb or uvsc")
	return cmd
}

func newCrashEventCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:    "crash-event <event-handle>:<pid>",
		Short:  "Attach to a crashed process on behalf of a crash reporter",
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := cliargs.ParseCrashEvent(args[0])
			if err != nil {
				return err
			}
			return runSession(cmd, v, params)
		},
	}
}

// runSession starts one session and prints events until it stops
func runSession(cmd *cobra.Command, v *viper.Viper, params types.RunParameters) error {
	cfg, logger, err := setup(v)
	if err != nil {
		return err
	}
	defer logger.Sync()

	p := plugin.New(cfg, logger, plugin.Options{})
	out := cmd.OutOrStdout()

	stopped := make(chan string, 1)
	p.Bus.SubscribeAll(func(e event.Event) {
		fmt.Fprintln(out, describe(e))
		if s, ok := e.(event.SessionStoppedEvent); ok {
			select {
			case stopped <- s.Failure:
			default:
			}
		}
	})
	if err := p.Start(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	info, err := p.StartSession(ctx, params)
	if err != nil {
		closePlugin(p, cfg.ShutdownGrace)
		return err
	}
	fmt.Fprintf(out, "session %s (%s) started\n", info.SessionID, info.DisplayName)

	var failure string
	select {
	case failure = <-stopped:
	case <-ctx.Done():
		fmt.Fprintln(out, "stopping session")
	}
	closePlugin(p, cfg.ShutdownGrace)
	if failure != "" {
		return fmt.Errorf("session failed: %s", failure)
	}
	return nil
}

func closePlugin(p *plugin.Plugin, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace+closeSlack)
	defer cancel()
	_ = p.Close(ctx)
}

// describe renders an event as one line of text
func describe(e event.Event) string {
	switch ev := e.(type) {
	case event.SessionRegisteredEvent:
		return fmt.Sprintf("[%s] registered", ev.Session.DisplayName)
	case event.SessionUnregisteredEvent:
		return fmt.Sprintf("[%s] unregistered", ev.Session.DisplayName)
	case event.CurrentChangedEvent:
		if ev.EntryID == "" {
			return "no current session"
		}
		return fmt.Sprintf("[%s] is current", ev.EntryName)
	case event.PresetsChangedEvent:
		return fmt.Sprintf("%d presets", ev.Count)
	case event.SessionStateChangedEvent:
		if ev.Aggregate {
			return fmt.Sprintf("[%s] %s", ev.Session.DisplayName, ev.NewState)
		}
		return fmt.Sprintf("[%s] %s: %s -> %s", ev.Session.DisplayName, ev.Engine, ev.OldState, ev.NewState)
	case event.SessionStartedEvent:
		if ev.PID > 0 {
			return fmt.Sprintf("[%s] started, pid %d", ev.Session.DisplayName, ev.PID)
		}
		return fmt.Sprintf("[%s] started", ev.Session.DisplayName)
	case event.SessionStoppedEvent:
		if ev.Failure != "" {
			return fmt.Sprintf("[%s] stopped: %s", ev.Session.DisplayName, ev.Failure)
		}
		return fmt.Sprintf("[%s] stopped", ev.Session.DisplayName)
	case event.SessionWarningEvent:
		return fmt.Sprintf("[%s] warning: %s", ev.Session.DisplayName, ev.Message)
	case event.SessionFailedEvent:
		return fmt.Sprintf("[%s] %s: %s", ev.Session.DisplayName, ev.Code, ev.Message)
	}
	return e.EventType()
}
