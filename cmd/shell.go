package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"synapse/internal/config"
	"synapse/internal/depmanager"
	"synapse/internal/manifest"
	"synapse/pkg/ids"
	"synapse/pkg/logging"
	"synapse/runtime"
)

// shellOrigin attributes shell-issued commands the same way runServe
// attributes manifest-driven ones: no Record of its own, since attribution
// doesn't require one here either.
const shellOrigin ids.ServiceID = 0

var shellOrdered bool

// shellCmd loads a manifest, runs its event loop in the background, and
// opens a readline-driven interactive shell for inspecting and steering the
// resulting service graph - grounded on the teacher's internal/agent.REPL
// (readline.Config, Readline()/io.EOF/ErrInterrupt handling, history file
// under os.TempDir), generalized from MCP command dispatch to synapse's own
// introspection and lifecycle surface.
var shellCmd = &cobra.Command{
	Use:   "shell <manifest>",
	Short: "Load a manifest and open an interactive introspection shell",
	Long: `Loads the given manifest, starts the event loop in the background, and
opens a shell for inspecting and steering the running service graph.

Shell commands:
  services           list every installed service and its state
  deps <id>          list a service's declared dependency edges
  stop <id>          request a graceful stop of service <id>
  help               show this message
  quit / exit        stop the event loop and leave the shell`,
	Args: cobra.ExactArgs(1),
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().BoolVar(&shellOrdered, "ordered", false, "Use the insertion-ordered queue variant")
}

func runShell(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]
	logger := logging.Default()

	var rt *runtime.Runtime
	if shellOrdered {
		rt = runtime.NewOrdered(logger)
	} else {
		rt = runtime.New(logger)
	}

	registry := manifest.NewRegistry()
	registerBuiltinFactories(registry)
	installer := manifest.NewInstaller(rt, registry, shellOrigin, logger)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Loading manifest %s...", manifestPath)
	s.Start()
	err := installer.LoadAndInstall(cmd.Context(), manifestPath)
	s.Stop()
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}

	installer.WatchAndReconcile(manifestPath)
	watcher := config.NewWatcher(manifestPath, shellOrigin, rt.PushEvent)
	if err := watcher.Start(); err != nil {
		logger.Warn("cmd", 0, "runShell", "manifest watcher unavailable: %v", err)
	}
	defer watcher.Stop()

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- rt.Start(loopCtx, runtime.RunConfig{})
	}()

	out := cmd.OutOrStdout()
	if err := runShellREPL(out, rt); err != nil {
		cancelLoop()
		return err
	}

	rt.Quit(shellOrigin)
	select {
	case err := <-loopErr:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("shell: event loop: %w", err)
		}
	case <-time.After(runtime.DefaultQuitTimeout + time.Second):
		cancelLoop()
	}
	return nil
}

func runShellREPL(out io.Writer, rt *runtime.Runtime) error {
	historyFile := filepath.Join(os.TempDir(), ".synapsectl_shell_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "synapse> ",
		HistoryFile: historyFile,
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("services"),
			readline.PcItem("deps"),
			readline.PcItem("stop"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
			readline.PcItem("exit"),
		),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("shell: readline init: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(out, "synapse shell - type 'help' for commands, 'exit' to leave")

	for {
		line, err := rl.Readline()
		switch {
		case err == readline.ErrInterrupt:
			continue
		case err == io.EOF:
			return nil
		case err != nil:
			return fmt.Errorf("shell: readline: %w", err)
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			fmt.Fprintln(out, shellCmd.Long)
		case "services":
			printServiceSummaryTable(out, rt.ServicesAsync())
		case "deps":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: deps <id>")
				continue
			}
			id, perr := strconv.ParseUint(fields[1], 10, 64)
			if perr != nil {
				fmt.Fprintf(out, "invalid service id %q\n", fields[1])
				continue
			}
			printDependencyEdges(out, rt.IntrospectAsync(), ids.ServiceID(id))
		case "stop":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: stop <id>")
				continue
			}
			id, perr := strconv.ParseUint(fields[1], 10, 64)
			if perr != nil {
				fmt.Fprintf(out, "invalid service id %q\n", fields[1])
				continue
			}
			rt.RequestStopAsync(ids.ServiceID(id))
			fmt.Fprintf(out, "requested stop of service %d\n", id)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q - type 'help'\n", fields[0])
		}
	}
}

func printServiceSummaryTable(out io.Writer, services []depmanager.ServiceSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "NAME", "STATE"})
	for _, s := range services {
		t.AppendRow(table.Row{s.ID, s.Name, s.State})
	}
	t.Render()
}

func printDependencyEdges(out io.Writer, snap depmanager.Snapshot, id ids.ServiceID) {
	edges, ok := snap.Edges[id]
	if !ok {
		fmt.Fprintf(out, "no such service %d\n", id)
		return
	}
	if len(edges) == 0 {
		fmt.Fprintf(out, "service %d declares no dependencies\n", id)
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"INTERFACE", "REQUIRED", "ALLOW_MULTIPLE", "SATISFIED"})
	for _, e := range edges {
		t.AppendRow(table.Row{e.Interface, e.Required, e.AllowMultiple, e.SatisfiedCount})
	}
	t.Render()
}
