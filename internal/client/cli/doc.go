// Package cli provides the interactive wardsync command-line client.
//
// It wires configuration, the local store, the remote authority and the
// sync dispatcher behind a small REPL. Writes go to the local store and
// return immediately; a background dispatcher pushes them when the remote
// is reachable, and a connectivity watcher nudges it when the link comes
// back.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
