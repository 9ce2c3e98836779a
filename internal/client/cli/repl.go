package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to. Each handler
// receives the rest of the line after the command word.
type execIface interface {
	remoteOnly() bool
	Create(ctx context.Context, args string) error
	Update(ctx context.Context, args string) error
	Delete(ctx context.Context, args string) error
	Get(ctx context.Context, args string) error
	List(ctx context.Context, args string) error
	Status(ctx context.Context) error
	Sync(ctx context.Context) error
	Attention(ctx context.Context) error
	Retry(ctx context.Context, args string) error
	Discard(ctx context.Context, args string) error
	Resolve(ctx context.Context, args string) error
	Token(ctx context.Context, args string) error
}

// runREPL reads one command per line from reader and dispatches it to a.
// Handler errors are printed and the loop continues. It returns on EOF,
// "exit" or "quit", or when ctx is done.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for ctx.Err() == nil {
		printlnFn(fmt.Sprintf("fieldsync %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			return
		}
		parts := splitN(line, 2)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], ""
		if len(parts) == 2 {
			args = parts[1]
		}

		var cmdErr error
		switch cmd {
		case "help":
			if a.remoteOnly() {
				printlnFn("Available commands: create, update, delete, get, (l)ist, token, exit")
			} else {
				printlnFn("Available commands: create, update, delete, get, (l)ist, status, sync, attention, retry, discard, resolve, token, exit")
			}
		case "create":
			cmdErr = a.Create(ctx, args)
		case "update":
			cmdErr = a.Update(ctx, args)
		case "delete":
			cmdErr = a.Delete(ctx, args)
		case "get":
			cmdErr = a.Get(ctx, args)
		case "l", "list":
			cmdErr = a.List(ctx, args)
		case "status":
			cmdErr = a.Status(ctx)
		case "sync":
			cmdErr = a.Sync(ctx)
		case "attention":
			cmdErr = a.Attention(ctx)
		case "retry":
			cmdErr = a.Retry(ctx, args)
		case "discard":
			cmdErr = a.Discard(ctx, args)
		case "resolve":
			cmdErr = a.Resolve(ctx, args)
		case "token":
			cmdErr = a.Token(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if cmdErr != nil {
			printlnFn("Error:", cmdErr)
		}
		if err != nil {
			return
		}
	}
}
