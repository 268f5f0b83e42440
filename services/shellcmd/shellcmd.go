// Package shellcmd is a bundled IShellCommand provider built on stdlib
// os/exec: the pack carries no third-party process-execution library, so
// this stays on the standard library (see DESIGN.md). It is grounded on
// the source's IShellCommand.h, a marker interface a service implements to
// register itself as a named, invocable shell command, reshaped here as a
// Registry a host (e.g. a REPL or admin endpoint) looks commands up from —
// the same name-to-handler registry shape as the teacher's
// internal/agent/commands package.
package shellcmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"

	"synapse/pkg/ids"
)

// IShellCommand is implemented by a provided service that wants to expose
// itself as a runnable shell command (source's IShellCommand.h marker
// interface, given the one method a host actually needs to invoke it).
type IShellCommand interface {
	// Name is the command's invocation name, unique within one Registry.
	Name() string
	// Run executes the command with args and returns its combined output.
	Run(ctx context.Context, args []string) (string, error)
}

// InterfaceHash is the stable hash dependents register against.
var InterfaceHash = ids.InterfaceOf[IShellCommand]()

// Registry maps command names to their IShellCommand provider, the
// analogue of the teacher's commands.Registry but for Services rather than
// REPL line handlers.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]IShellCommand
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]IShellCommand)}
}

// Register adds cmd under its own Name(). A later registration for the
// same name overwrites the previous one.
func (r *Registry) Register(cmd IShellCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name()] = cmd
}

// Unregister removes the command registered under name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
}

// Run looks up name and executes it with args.
func (r *Registry) Run(ctx context.Context, name string, args []string) (string, error) {
	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("shellcmd: no command registered as %q", name)
	}
	return cmd.Run(ctx, args)
}

// Names returns every registered command name. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.commands))
	for name := range r.commands {
		out = append(out, name)
	}
	return out
}

// Process is the bundled IShellCommand implementation: it runs a fixed OS
// executable (plus any caller-supplied args appended to its own) and
// returns combined stdout/stderr, matching the source's treatment of a
// shell command as "one external program, invoked by name".
type Process struct {
	name string
	path string
	args []string
}

// New constructs a Process command named name that invokes path with a
// fixed args prefix; Run appends its own args parameter after these.
func New(name, path string, args ...string) *Process {
	return &Process{name: name, path: path, args: args}
}

func (p *Process) Name() string { return p.name }

// Run invokes the underlying executable, returning its combined
// stdout+stderr. A non-zero exit is reported as an error wrapping
// *exec.ExitError, not a panic — process failures are routine, not
// programmer errors.
func (p *Process) Run(ctx context.Context, args []string) (string, error) {
	full := make([]string, 0, len(p.args)+len(args))
	full = append(full, p.args...)
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, p.path, full...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("shellcmd: run %s: %w", p.name, err)
	}
	return out.String(), nil
}
