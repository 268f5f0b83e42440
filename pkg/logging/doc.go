// Package logging defines the logger contract that synapse's core accepts
// from user-supplied logging services (spec.md §6), plus a slog-backed
// default used internally by the runtime before any such service is active.
//
// Bundled logger services (services/consolelog, services/zlog) implement
// Logger against different backends; user code obtains whichever one is
// injected as a dependency on the ILog interface rather than calling this
// package directly, except for the runtime's own internal diagnostics.
package logging
