package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/telvault/telvault/internal/client"
	"github.com/telvault/telvault/internal/session"
	"github.com/telvault/telvault/internal/store"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := client.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "sync":
		cmdSync(ctx, c, args[1:], *jsonFlag)
	case "tasks":
		cmdTasks(ctx, c, args[1:], *jsonFlag)
	case "cancel":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: telvaultctl cancel <task-id>")
			os.Exit(1)
		}
		cmdCancel(ctx, c, args[1])
	case "conversations":
		cmdConversations(ctx, c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: telvaultctl messages <conversation-id> [limit]")
			os.Exit(1)
		}
		cmdMessages(ctx, c, args[1:], *jsonFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: telvaultctl search <query>")
			os.Exit(1)
		}
		cmdSearch(ctx, c, args[1], *jsonFlag)
	case "export":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: telvaultctl export <conversation-id> [json|csv]")
			os.Exit(1)
		}
		cmdExport(ctx, c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: telvaultctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                     Show daemon status")
	fmt.Fprintln(os.Stderr, "  sync [conversation-id]     Start a sync pass (all or one conversation)")
	fmt.Fprintln(os.Stderr, "  sync check [id]            Start a deletion check")
	fmt.Fprintln(os.Stderr, "  sync media                 Backfill pending attachments")
	fmt.Fprintln(os.Stderr, "  tasks [task-id]            List recent tasks or show one")
	fmt.Fprintln(os.Stderr, "  cancel <task-id>           Cancel the active task")
	fmt.Fprintln(os.Stderr, "  conversations              List archived conversations")
	fmt.Fprintln(os.Stderr, "  messages <id> [limit]      Show recent messages of a conversation")
	fmt.Fprintln(os.Stderr, "  search <query>             Search message bodies")
	fmt.Fprintln(os.Stderr, "  export <id> [json|csv]     Export a conversation to stdout")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid conversation id %q", s))
	}
	return id
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	st, err := c.GetStatus(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Session: %s\n", st.Session)
	fmt.Printf("State:   %s\n", st.State)
}

func cmdSync(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	kind := store.TaskFullSync
	var convID int64

	if len(args) > 0 {
		switch args[0] {
		case "check":
			kind = store.TaskDeletionCheck
			if len(args) > 1 {
				convID = parseID(args[1])
			}
		case "media":
			kind = store.TaskAttachmentBackfill
		default:
			kind = store.TaskConversationSync
			convID = parseID(args[0])
		}
	}

	task, err := c.StartSync(ctx, kind, convID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(task)
		return
	}
	fmt.Printf("Task %s started (%s)\n", task.ID, task.Kind)
}

func cmdTasks(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) > 0 {
		task, err := c.GetTask(ctx, args[0])
		if err != nil {
			fatal(err)
		}
		if jsonOut {
			outputJSON(task)
			return
		}
		printTask(task)
		if task.Log != "" {
			fmt.Println("\nLog:")
			fmt.Print(task.Log)
		}
		return
	}

	tasks, err := c.ListTasks(ctx, 20)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(tasks)
		return
	}
	for i := range tasks {
		t := &tasks[i]
		fmt.Printf("%s  %-19s %-10s %3d%%  %s\n",
			t.ID, t.Kind, t.Status, t.ProgressPercent,
			time.UnixMilli(t.CreatedAt).Format("2006-01-02 15:04:05"))
	}
}

func printTask(t *client.Task) {
	fmt.Printf("Task:     %s\n", t.ID)
	fmt.Printf("Kind:     %s\n", t.Kind)
	fmt.Printf("Status:   %s\n", t.Status)
	fmt.Printf("Progress: %d%% (%d/%d conversations)\n",
		t.ProgressPercent, t.SyncedConversations, t.TotalConversations)
	fmt.Printf("Messages: %d seen, %d new, %d deleted\n",
		t.SyncedMessages, t.NewMessages, t.DeletedMessages)
	if t.CurrentConversationTitle != "" && t.IsRunning {
		fmt.Printf("Current:  %s\n", t.CurrentConversationTitle)
	}
	if t.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", t.ErrorMessage)
	}
}

func cmdCancel(ctx context.Context, c *client.Client, id string) {
	if err := c.CancelTask(ctx, id); err != nil {
		fatal(err)
	}
	fmt.Println("Cancellation requested.")
}

func cmdConversations(ctx context.Context, c *client.Client, jsonOut bool) {
	convs, err := c.ListConversations(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	for _, conv := range convs {
		pin := " "
		if conv.Pinned {
			pin = "*"
		}
		fmt.Printf("%s %12d  %-10s %6d msgs  %s\n",
			pin, conv.ID, conv.Kind, conv.TotalMessageCount, conv.Title)
	}
}

func cmdMessages(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	convID := parseID(args[0])
	limit := 20
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			limit = n
		}
	}

	msgs, err := c.ListMessages(ctx, convID, 0, 0, limit)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	// Newest come first from the daemon; print oldest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := &msgs[i]
		stamp := time.UnixMilli(m.Date).Format("2006-01-02 15:04")
		sender := m.SenderName
		if m.Outgoing {
			sender = "me"
		}
		text := m.Text
		if m.MediaKind != "" {
			text = fmt.Sprintf("[%s] %s", m.MediaKind, text)
		}
		if m.IsDeleted {
			text += "  (deleted)"
		}
		fmt.Printf("%s  %-20s %s\n", stamp, sender+":", text)
	}
}

func cmdSearch(ctx context.Context, c *client.Client, query string, jsonOut bool) {
	results, err := c.Search(ctx, query, 0, 50)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	for _, r := range results {
		stamp := time.UnixMilli(r.Message.Date).Format("2006-01-02")
		fmt.Printf("%s  conv %d msg %d: %s\n", stamp, r.Message.ConversationID, r.Message.ID, r.Snippet)
	}
}

func cmdExport(ctx context.Context, c *client.Client, args []string) {
	convID := parseID(args[0])
	format := "json"
	if len(args) > 1 {
		format = args[1]
	}
	if err := c.Export(ctx, convID, format, os.Stdout); err != nil {
		fatal(err)
	}
}
