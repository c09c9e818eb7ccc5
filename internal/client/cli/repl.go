package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Put(ctx context.Context, args []string) error
	Get(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Status(ctx context.Context) error
	DeadLetters(ctx context.Context) error
	Superseded(ctx context.Context) error
	Retry(ctx context.Context, args []string) error
	Export(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	Resume(ctx context.Context) error
}

type command struct {
	minArgs int
	usage   string
	run     func(ctx context.Context, a execIface, args []string) error
}

var commands = map[string]command{
	"put": {3, "put <entity> <id|-> <json>", func(ctx context.Context, a execIface, args []string) error {
		return a.Put(ctx, args)
	}},
	"get": {2, "get <entity> <id>", func(ctx context.Context, a execIface, args []string) error {
		return a.Get(ctx, args)
	}},
	"list": {1, "list <entity> [field=value]", func(ctx context.Context, a execIface, args []string) error {
		return a.List(ctx, args)
	}},
	"delete": {2, "delete <entity> <id>", func(ctx context.Context, a execIface, args []string) error {
		return a.Delete(ctx, args)
	}},
	"status": {0, "status", func(ctx context.Context, a execIface, _ []string) error {
		return a.Status(ctx)
	}},
	"deadletters": {0, "deadletters", func(ctx context.Context, a execIface, _ []string) error {
		return a.DeadLetters(ctx)
	}},
	"superseded": {0, "superseded", func(ctx context.Context, a execIface, _ []string) error {
		return a.Superseded(ctx)
	}},
	"retry": {2, "retry <entity> <id>", func(ctx context.Context, a execIface, args []string) error {
		return a.Retry(ctx, args)
	}},
	"export": {1, "export <file.xlsx>", func(ctx context.Context, a execIface, args []string) error {
		return a.Export(ctx, args)
	}},
	"sync": {0, "sync", func(ctx context.Context, a execIface, _ []string) error {
		return a.Sync(ctx)
	}},
	"resume": {0, "resume", func(ctx context.Context, a execIface, _ []string) error {
		return a.Resume(ctx)
	}},
}

const helpText = "Available commands: put, get, (l)ist, delete, status, deadletters, superseded, retry, export, sync, resume, exit"

// runREPL starts a simple read–eval–print loop.
//
// It reads a line from the provided scanner, parses the first token as the
// command, checks the argument count and dispatches to a. Handler errors are
// printed and the loop goes on. The loop exits on scanner EOF, on ctx
// cancellation or when the user types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("ws%s> ", statusFn()))
		if ctx.Err() != nil || !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "help":
			printlnFn(helpText)
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		case "l":
			name = "list"
		}

		cmd, ok := commands[name]
		if !ok {
			printlnFn("Unknown command:", name)
			continue
		}
		if len(args) < cmd.minArgs {
			printlnFn("Usage:", cmd.usage)
			continue
		}
		if err := cmd.run(ctx, a, args); err != nil {
			printlnFn("Error:", err)
		}
	}
}
