package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/bubbled/internal/api"
	"github.com/matheus3301/bubbled/internal/config"
	"github.com/matheus3301/bubbled/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "init" {
		cmdInit(name, args[1:])
		return
	}

	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		fatal(fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err))
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	out := &printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		out.status(must(c.Status(ctx)))
	case "sync":
		out.result(must(c.SyncNow(ctx)))
	case "chats":
		fs := flag.NewFlagSet("chats", flag.ExitOnError)
		limit := fs.Int("limit", 50, "number of chats")
		offset := fs.Int("offset", 0, "chats to skip")
		_ = fs.Parse(args[1:])
		out.chats(must(c.ListChats(ctx, *limit, *offset)))
	case "thread":
		fs := flag.NewFlagSet("thread", flag.ExitOnError)
		limit := fs.Int("limit", 25, "number of messages")
		refresh := fs.Bool("refresh", false, "pull the newest messages first")
		_ = fs.Parse(args[1:])
		chat := arg(fs.Args(), 0, "thread [--limit n] [--refresh] <chat-guid>")
		out.thread(must(c.ListThread(ctx, chat, *limit, *refresh)))
	case "send":
		fs := flag.NewFlagSet("send", flag.ExitOnError)
		attach := fs.String("attach", "", "file to send with the text as caption")
		_ = fs.Parse(args[1:])
		chat := arg(fs.Args(), 0, "send [--attach file] <chat-guid> <text...>")
		text := strings.Join(fs.Args()[1:], " ")
		path := *attach
		if path != "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				fatal(err)
			}
			path = abs
		}
		out.result(must(c.SendText(ctx, chat, text, path)))
	case "read":
		out.result(must(c.MarkRead(ctx, arg(args[1:], 0, "read <chat-guid>"))))
	case "react":
		usage := "react <chat-guid> <message-guid> <love|like|dislike|laugh|emphasize|question|->"
		chat, msg, reaction := arg(args[1:], 0, usage), arg(args[1:], 1, usage), arg(args[1:], 2, usage)
		out.result(must(c.React(ctx, chat, msg, reaction, reaction == "-")))
	case "clear":
		fs := flag.NewFlagSet("clear", flag.ExitOnError)
		records := fs.Bool("records", false, "also delete every cached chat and message")
		_ = fs.Parse(args[1:])
		out.result(must(c.ClearCache(ctx, *records)))
	case "avatar":
		fs := flag.NewFlagSet("avatar", flag.ExitOnError)
		size := fs.Int("size", 128, "edge length of generated avatars")
		_ = fs.Parse(args[1:])
		usage := "avatar [--size n] <chat-guid> <out-file>"
		chat, dest := arg(fs.Args(), 0, usage), arg(fs.Args(), 1, usage)
		img, err := c.Avatar(ctx, chat, *size)
		if err != nil {
			fatal(err)
		}
		writeFile(dest, img)
		out.result(map[string]any{"ok": true, "message": fmt.Sprintf("wrote %d bytes to %s", len(img), dest)})
	case "attachment":
		usage := "attachment <attachment-guid> <out-dir>"
		guid, dir := arg(args[1:], 0, usage), arg(args[1:], 1, usage)
		data, meta, err := c.Attachment(ctx, guid)
		if err != nil {
			fatal(err)
		}
		fileName, _ := meta["name"].(string)
		if fileName == "" {
			ext, _ := meta["extension"].(string)
			fileName = guid + ext
		}
		dest := filepath.Join(dir, filepath.Base(fileName))
		writeFile(dest, data)
		meta["ok"] = true
		meta["message"] = "wrote " + dest
		out.result(meta)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: bubblectl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init --url <url> --password <pw>   Write the profile config")
	fmt.Fprintln(os.Stderr, "  status                             Show daemon and sync status")
	fmt.Fprintln(os.Stderr, "  sync                               Refresh chats and sweep now")
	fmt.Fprintln(os.Stderr, "  chats                              List cached chats")
	fmt.Fprintln(os.Stderr, "  thread <chat>                      Show a chat's messages")
	fmt.Fprintln(os.Stderr, "  send <chat> <text>                 Send a message")
	fmt.Fprintln(os.Stderr, "  read <chat>                        Mark a chat as read")
	fmt.Fprintln(os.Stderr, "  react <chat> <msg> <reaction|->    Set or remove a reaction")
	fmt.Fprintln(os.Stderr, "  clear [--records]                  Clear cached media (and records)")
	fmt.Fprintln(os.Stderr, "  avatar <chat> <file>               Save a chat's avatar")
	fmt.Fprintln(os.Stderr, "  attachment <guid> <dir>            Download an attachment")
}

func cmdInit(name string, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	url := fs.String("url", "", "server URL")
	password := fs.String("password", "", "server password")
	method := fs.String("api-method", config.DefaultAPIMethod, "applescript or private")
	poll := fs.Int("poll", config.DefaultPollSeconds, "poll interval in seconds")
	makeDefault := fs.Bool("default", false, "make this the default profile")
	_ = fs.Parse(args)

	p := &config.Profile{
		Server: config.Server{URL: *url, Password: *password, APIMethod: *method},
		Sync:   config.Sync{PollIntervalSeconds: *poll},
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		fatal(err)
	}
	if err := profile.EnsureDir(name); err != nil {
		fatal(err)
	}
	if err := config.Save(profile.ConfigPath(name), p); err != nil {
		fatal(err)
	}
	if *makeDefault {
		if err := config.Save(profile.GlobalConfigPath(), &config.Global{DefaultProfile: name}); err != nil {
			fatal(err)
		}
	}
	fmt.Printf("Wrote %s\n", profile.ConfigPath(name))
}

func must(v map[string]any, err error) map[string]any {
	if err != nil {
		fatal(err)
	}
	return v
}

func arg(args []string, i int, usage string) string {
	if i >= len(args) || args[i] == "" {
		fmt.Fprintln(os.Stderr, "usage: bubblectl "+usage)
		os.Exit(1)
	}
	return args[i]
}

func writeFile(path string, data []byte) {
	if err := os.WriteFile(path, data, 0600); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

type printer struct {
	json bool
}

func (p *printer) emit(v any) bool {
	if !p.json {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
	return true
}

func (p *printer) status(st map[string]any) {
	if p.emit(st) {
		return
	}
	fmt.Printf("Profile:  %v\n", st["profile"])
	state := fmt.Sprint(st["state"])
	if d, _ := st["detail"].(string); d != "" {
		state += " (" + d + ")"
	}
	fmt.Printf("State:    %s\n", state)
	fmt.Printf("Uptime:   %v\n", time.Duration(num(st["uptime_ms"]))*time.Millisecond)
	fmt.Printf("Polling:  %v every %vs\n", st["polling"], st["interval_seconds"])
	fmt.Printf("Records:  %d chats, %d messages, %d handles, %d reactions\n",
		num(st["chats"]), num(st["messages"]), num(st["handles"]), num(st["reactions"]))
	fmt.Printf("Schema:   v%d\n", num(st["schema_version"]))
	if ts := num(st["last_sweep"]); ts > 0 {
		fmt.Printf("Swept:    %s\n", time.UnixMilli(ts).Format(time.DateTime))
	}
	if recent, _ := st["recent_mutations"].([]any); len(recent) > 0 {
		fmt.Println("Recent writes:")
		for _, r := range recent {
			m, _ := r.(map[string]any)
			line := fmt.Sprintf("  %-16v %-8v %v", m["kind"], m["status"], m["chat"])
			if e, _ := m["error"].(string); e != "" {
				line += "  " + e
			}
			fmt.Println(line)
		}
	}
}

func (p *printer) result(r map[string]any) {
	if p.emit(r) {
		return
	}
	if ok, _ := r["ok"].(bool); !ok {
		if msg, _ := r["message"].(string); msg != "" {
			fatal(fmt.Errorf("%s", msg))
		}
		if e, _ := r["error"].(string); e != "" {
			fmt.Fprintf(os.Stderr, "warning: %s\n", e)
		}
	}
	switch {
	case r["message"] != nil:
		fmt.Println(r["message"])
	case r["chats"] != nil:
		fmt.Printf("%d chats cached\n", num(r["chats"]))
	case r["cleared"] != nil:
		fmt.Printf("Cleared: %v\n", r["cleared"])
	}
}

func (p *printer) chats(r map[string]any) {
	if p.emit(r) {
		return
	}
	list, _ := r["chats"].([]any)
	if len(list) == 0 {
		fmt.Println("No chats cached.")
		return
	}
	for _, item := range list {
		c, _ := item.(map[string]any)
		when := ""
		if ts := num(c["last_date"]); ts > 0 {
			when = time.UnixMilli(ts).Format(time.DateTime)
		}
		fmt.Printf("%-40v %-19s %-30v %s\n", c["guid"], when, c["title"], oneLine(c["last_text"]))
	}
}

func (p *printer) thread(r map[string]any) {
	if p.emit(r) {
		return
	}
	if e, _ := r["error"].(string); e != "" {
		fmt.Fprintf(os.Stderr, "warning: showing cached messages: %s\n", e)
	}
	list, _ := r["messages"].([]any)
	for _, item := range list {
		m, _ := item.(map[string]any)
		line := fmt.Sprintf("%s %-14v %s", time.UnixMilli(num(m["date"])).Format(time.DateTime), m["sender"], oneLine(m["text"]))
		if retracted, _ := m["retracted"].(bool); retracted {
			line += " [unsent]"
		} else if edited, _ := m["edited"].(bool); edited {
			line += " [edited]"
		}
		badges, _ := m["badges"].([]any)
		for _, b := range badges {
			bm, _ := b.(map[string]any)
			line += fmt.Sprintf(" [%v×%d]", bm["reaction"], num(bm["count"]))
		}
		fmt.Println(line)
		atts, _ := m["attachments"].([]any)
		for _, a := range atts {
			am, _ := a.(map[string]any)
			fmt.Printf("    %v %v (%v, %v)\n", am["kind"], am["name"], am["size"], am["guid"])
		}
		fmt.Printf("    id: %v\n", m["guid"])
	}
}

// num reads a JSON number, or a decimal string such as a checkpoint.
func num(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		var out int64
		_, _ = fmt.Sscan(n, &out)
		return out
	}
	return 0
}

func oneLine(v any) string {
	s, _ := v.(string)
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}
