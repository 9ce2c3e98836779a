package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/app"
	"github.com/dmitrijs2005/fieldsync/internal/client/datamanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/syncsvc"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

var errRemoteOnly = errors.New("not available while the local store is unavailable")

// App binds the REPL to a client handle.
type App struct {
	h      *app.Handle
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(h *app.Handle, in io.Reader, out io.Writer) *App {
	return &App{h: h, reader: bufio.NewReader(in), out: out}
}

// Run serves the REPL until the input ends or ctx is done. Changes that
// arrive from the server are announced between commands.
func (a *App) Run(ctx context.Context) {
	printlnFn("Welcome to fieldsync (type 'help' for commands)")
	if a.remoteOnly() {
		printlnFn("The local store is unavailable: working remote-only, nothing is cached.")
	}
	stop := a.watchChanges(ctx)
	defer stop()

	runREPL(ctx, a, func() string { return a.getStatus(ctx) }, a.reader)
}

func (a *App) remoteOnly() bool {
	return a.h.RemoteOnly()
}

// getStatus renders the prompt indicator, e.g. "(online, 2 pending)".
func (a *App) getStatus(ctx context.Context) string {
	if a.remoteOnly() {
		return "(remote-only)"
	}
	st, err := a.h.Sync.Status(ctx)
	if err != nil {
		return "(status unavailable)"
	}
	parts := []string{"offline"}
	if st.Online {
		parts[0] = "online"
	}
	if st.State != syncsvc.StateIdle {
		parts = append(parts, string(st.State))
	}
	switch {
	case st.Pending > 0:
		parts = append(parts, fmt.Sprintf("%d pending", st.Pending))
	case st.Failed == 0 && st.Conflicts == 0:
		parts = append(parts, "synced")
	}
	if n := st.Failed + st.Conflicts; n > 0 {
		parts = append(parts, fmt.Sprintf("%d need attention", n))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (a *App) watchChanges(ctx context.Context) func() {
	if a.h.Data == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, t := range models.EntityTypes {
		ch, unsubscribe := a.h.Data.Subscribe(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			for {
				select {
				case c, ok := <-ch:
					if !ok {
						return
					}
					if msg := describeChange(c); msg != "" {
						printlnFn(msg)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func describeChange(c datamanager.Change) string {
	switch c.Kind {
	case datamanager.ChangeRemote:
		return fmt.Sprintf("* %s %s updated from the server", c.Type, c.ID)
	case datamanager.ChangeConflict:
		return fmt.Sprintf("! %s %s is in conflict, see 'attention'", c.Type, c.ID)
	}
	return ""
}

func usage(format string) error {
	return common.Invalid("usage", format)
}

// readDocument returns inline JSON or prompts for it.
func (a *App) readDocument(inline, prompt string) (json.RawMessage, error) {
	doc := strings.TrimSpace(inline)
	if doc == "" {
		var err error
		if doc, err = GetMultiline(a.reader, prompt, a.out); err != nil {
			return nil, err
		}
	}
	if !json.Valid([]byte(doc)) {
		return nil, common.Invalid("json", "not a valid JSON document")
	}
	return json.RawMessage(doc), nil
}

func (a *App) Create(ctx context.Context, args string) error {
	p := splitN(args, 2)
	if len(p) == 0 {
		return usage("create <type> [id] [json]")
	}
	t, err := models.ParseEntityType(p[0])
	if err != nil {
		return err
	}

	var id, inline string
	if len(p) == 2 {
		if strings.HasPrefix(p[1], "{") {
			inline = p[1]
		} else {
			q := splitN(p[1], 2)
			id = q[0]
			if len(q) == 2 {
				inline = q[1]
			}
		}
	}
	data, err := a.readDocument(inline, fmt.Sprintf("Enter the %s as JSON", t))
	if err != nil {
		return err
	}

	rec, err := a.h.Records.Create(ctx, t, id, data)
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

func (a *App) Update(ctx context.Context, args string) error {
	p := splitN(args, 3)
	if len(p) < 2 {
		return usage("update <type> <id> [json patch]")
	}
	t, err := models.ParseEntityType(p[0])
	if err != nil {
		return err
	}
	inline := ""
	if len(p) == 3 {
		inline = p[2]
	}
	patch, err := a.readDocument(inline, "Enter the changes as a JSON merge patch")
	if err != nil {
		return err
	}

	rec, err := a.h.Records.Update(ctx, t, p[1], patch)
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

// typeAndID parses "<type> <id>".
func typeAndID(args, form string) (models.EntityType, string, error) {
	f := strings.Fields(args)
	if len(f) != 2 {
		return "", "", usage(form)
	}
	t, err := models.ParseEntityType(f[0])
	return t, f[1], err
}

func (a *App) Delete(ctx context.Context, args string) error {
	t, id, err := typeAndID(args, "delete <type> <id>")
	if err != nil {
		return err
	}
	if err := a.h.Records.Delete(ctx, t, id); err != nil {
		return err
	}
	printlnFn("Deleted", t, id)
	return nil
}

func (a *App) Get(ctx context.Context, args string) error {
	t, id, err := typeAndID(args, "get <type> <id>")
	if err != nil {
		return err
	}
	rec, err := a.h.Records.Get(ctx, t, id)
	if err != nil {
		return err
	}
	printRecord(rec)
	if rec.Remote != nil {
		printlnFn("  server copy:", describeRemote(rec.Remote))
	}
	return nil
}

func (a *App) List(ctx context.Context, args string) error {
	f := strings.Fields(args)
	if len(f) == 0 || len(f) > 2 || (len(f) == 2 && f[1] != "all") {
		return usage("list <type> [all]")
	}
	t, err := models.ParseEntityType(f[0])
	if err != nil {
		return err
	}
	recs, err := a.h.Records.List(ctx, t, len(f) == 2)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		printlnFn("No records")
		return nil
	}
	for _, r := range recs {
		printRecord(r)
	}
	return nil
}

func printRecord(r models.RawRecord) {
	flags := []string{string(r.SyncState), fmt.Sprintf("v%d", r.Version)}
	if r.Deleted {
		flags = append(flags, "deleted")
	}
	printlnFn(fmt.Sprintf("%s %s [%s] %s", r.Type, r.ID, strings.Join(flags, " "), r.Data))
}

func describeRemote(s *models.RemoteSnapshot) string {
	if s.Deleted {
		return fmt.Sprintf("v%d deleted at %s", s.Version, s.UpdatedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("v%d at %s %s", s.Version, s.UpdatedAt.Format(time.RFC3339), s.Data)
}

func (a *App) Status(ctx context.Context) error {
	if a.remoteOnly() {
		printlnFn("Mode: remote-only (local store unavailable)")
		return nil
	}
	st, err := a.h.Sync.Status(ctx)
	if err != nil {
		return err
	}
	online := "offline"
	if st.Online {
		online = "online"
	}
	printlnFn(fmt.Sprintf("State: %s (%s)", st.State, online))
	printlnFn(fmt.Sprintf("Pending: %d  Failed: %d  Conflicts: %d", st.Pending, st.Failed, st.Conflicts))
	if st.LastSync.IsZero() {
		printlnFn("Last sync: never")
	} else {
		printlnFn("Last sync:", st.LastSync.Format(time.RFC3339))
	}
	if st.LastError != "" {
		printlnFn("Last error:", st.LastError)
	}
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	if a.remoteOnly() {
		return errRemoteOnly
	}
	if err := a.h.Sync.SyncNow(ctx); err != nil {
		return err
	}
	return a.Status(ctx)
}

func (a *App) Attention(ctx context.Context) error {
	if a.remoteOnly() {
		return errRemoteOnly
	}
	items, err := a.h.Data.NeedsAttention(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		printlnFn("Nothing needs attention")
		return nil
	}
	for _, it := range items {
		switch it.Kind {
		case datamanager.AttentionFailed:
			printlnFn(fmt.Sprintf("failed   %s %s %s entry=%s: %s", it.EntityType, it.EntityID, it.Entry.Operation, it.Entry.ID, it.Reason))
		case datamanager.AttentionConflict:
			printlnFn(fmt.Sprintf("conflict %s %s", it.EntityType, it.EntityID))
			printlnFn("  local: ", string(it.Local))
			if it.Remote != nil {
				printlnFn("  server:", describeRemote(it.Remote))
			}
		}
	}
	return nil
}

func (a *App) Retry(ctx context.Context, args string) error {
	if a.remoteOnly() {
		return errRemoteOnly
	}
	id := strings.TrimSpace(args)
	if id == "" {
		return usage("retry <entry-id>")
	}
	if err := a.h.Data.RetryFailed(ctx, id); err != nil {
		return err
	}
	a.h.Sync.RequestSync()
	printlnFn("Entry", id, "queued for retry")
	return nil
}

func (a *App) Discard(ctx context.Context, args string) error {
	if a.remoteOnly() {
		return errRemoteOnly
	}
	id := strings.TrimSpace(args)
	if id == "" {
		return usage("discard <entry-id>")
	}
	if err := a.h.Data.DiscardFailed(ctx, id); err != nil {
		return err
	}
	printlnFn("Entry", id, "discarded")
	return nil
}

func (a *App) Resolve(ctx context.Context, args string) error {
	if a.remoteOnly() {
		return errRemoteOnly
	}
	f := strings.Fields(args)
	if len(f) != 3 {
		return usage("resolve <type> <id> keep_local|take_remote")
	}
	t, err := models.ParseEntityType(f[0])
	if err != nil {
		return err
	}
	r, err := datamanager.ParseResolution(f[2])
	if err != nil {
		return err
	}
	if err := a.h.Data.ResolveConflict(ctx, t, f[1], r); err != nil {
		return err
	}
	a.h.Sync.RequestSync()
	printlnFn("Resolved", t, f[1], "with", r)
	return nil
}

func (a *App) Token(_ context.Context, args string) error {
	token := strings.TrimSpace(args)
	if token == "" {
		var err error
		if token, err = GetSecret("Access token", a.out); err != nil {
			return err
		}
	}
	if err := a.h.SetToken(token); err != nil {
		return err
	}
	printlnFn("Token updated for tenant", a.h.Tokens.Tenant())
	return nil
}
