// controlplanectl is a small binary that talks to controlplaned over a
// documented protocol: its own HTTP/SSE API, rather than a Unix relay
// socket.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		cmdRun(args)
	case "queue":
		cmdQueue(args)
	case "session":
		cmdSession(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "controlplanectl: unknown command %q\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`controlplanectl - agent run control plane client

Usage:
  controlplanectl run start --provider <name> --message <text> [--model <name>] [--resume <sessionId>]
  controlplanectl run stream <runId>
  controlplanectl run stop <runId>
  controlplanectl queue enqueue --provider <name> --model <name> --message <text> --session <id>
  controlplanectl queue drain [--limit <n>]
  controlplanectl session activate <sessionId> --app <id> --user <login> [--project <name>]
  controlplanectl session get <sessionId>

All commands accept -addr (default http://localhost:8080 or $CONTROLPLANE_ADDR).`)
}

func baseAddr(fs *flag.FlagSet) string {
	addr := fs.Lookup("addr").Value.String()
	return strings.TrimSuffix(addr, "/")
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultAddr := os.Getenv("CONTROLPLANE_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://localhost:8080"
	}
	addr := fs.String("addr", defaultAddr, "control plane base URL")
	return fs, addr
}

func cmdRun(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "controlplanectl run: expected start|stream|stop")
		os.Exit(1)
	}
	switch args[0] {
	case "start":
		runStart(args[1:])
	case "stream":
		runStream(args[1:])
	case "stop":
		runStop(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "controlplanectl run: unknown subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func runStart(args []string) {
	fs, _ := newFlagSet("run start")
	provider := fs.String("provider", "", "provider name (claude-code, codex-cli, opencode)")
	model := fs.String("model", "", "model name")
	message := fs.String("message", "", "user message content")
	resume := fs.String("resume", "", "resume an existing provider session id")
	_ = fs.Parse(args)

	if *provider == "" || *message == "" {
		fmt.Fprintln(os.Stderr, "controlplanectl run start: -provider and -message are required")
		os.Exit(1)
	}

	body := map[string]any{
		"provider": *provider,
		"model":    *model,
		"messages": []map[string]string{{"role": "user", "content": *message}},
	}
	if *resume != "" {
		body["resumeSessionId"] = *resume
	}

	resp := doJSON(fs, http.MethodPost, "/api/runs/start", body)
	defer func() { _ = resp.Body.Close() }()
	printResponseJSON(resp)
}

func runStream(args []string) {
	fs, _ := newFlagSet("run stream")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "controlplanectl run stream: expected <runId>")
		os.Exit(1)
	}
	runID := fs.Arg(0)

	req, err := http.NewRequest(http.MethodGet, baseAddr(fs)+"/api/runs/"+runID+"/stream", nil)
	if err != nil {
		fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		printResponseJSON(resp)
		os.Exit(1)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		fmt.Println(line)
	}
}

func runStop(args []string) {
	fs, _ := newFlagSet("run stop")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "controlplanectl run stop: expected <runId>")
		os.Exit(1)
	}
	resp := doJSON(fs, http.MethodPost, "/api/runs/"+fs.Arg(0)+"/stop", nil)
	defer func() { _ = resp.Body.Close() }()
	printResponseJSON(resp)
}

func cmdQueue(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "controlplanectl queue: expected enqueue|drain")
		os.Exit(1)
	}
	switch args[0] {
	case "enqueue":
		queueEnqueue(args[1:])
	case "drain":
		queueDrain(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "controlplanectl queue: unknown subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func queueEnqueue(args []string) {
	fs, _ := newFlagSet("queue enqueue")
	provider := fs.String("provider", "", "provider name")
	model := fs.String("model", "", "model name")
	message := fs.String("message", "", "user message content")
	session := fs.String("session", "", "session id")
	_ = fs.Parse(args)

	if *provider == "" || *model == "" || *message == "" || *session == "" {
		fmt.Fprintln(os.Stderr, "controlplanectl queue enqueue: -provider, -model, -message and -session are required")
		os.Exit(1)
	}

	body := map[string]any{
		"sessionId": *session,
		"provider":  *provider,
		"model":     *model,
		"messages":  []map[string]string{{"role": "user", "content": *message}},
	}
	resp := doJSON(fs, http.MethodPost, "/api/runs/queue/enqueue", body)
	defer func() { _ = resp.Body.Close() }()
	printResponseJSON(resp)
}

func queueDrain(args []string) {
	fs, _ := newFlagSet("queue drain")
	limit := fs.Int("limit", 10, "maximum number of items to claim")
	_ = fs.Parse(args)

	resp := doJSON(fs, http.MethodPost, "/api/runs/queue/drain", map[string]any{"limit": *limit})
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		Claimed   int `json:"claimed"`
		Succeeded int `json:"succeeded"`
		Retried   int `json:"retried"`
		Failed    int `json:"failed"`
		Canceled  int `json:"canceled"`
	}
	if !decodeOrPrintError(resp, &result) {
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLAIMED\tSUCCEEDED\tRETRIED\tFAILED\tCANCELED")
	_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", result.Claimed, result.Succeeded, result.Retried, result.Failed, result.Canceled)
	_ = w.Flush()
}

func cmdSession(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "controlplanectl session: expected activate|get")
		os.Exit(1)
	}
	switch args[0] {
	case "activate":
		sessionActivate(args[1:])
	case "get":
		sessionGet(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "controlplanectl session: unknown subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func sessionActivate(args []string) {
	fs, _ := newFlagSet("session activate")
	appID := fs.String("app", "", "app id")
	project := fs.String("project", "", "project name")
	user := fs.String("user", "", "user login name")
	_ = fs.Parse(args)

	if fs.NArg() < 1 || *appID == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "controlplanectl session activate: <sessionId> -app and -user are required")
		os.Exit(1)
	}

	body := map[string]any{"appId": *appID, "projectName": *project, "userLoginName": *user}
	resp := doJSON(fs, http.MethodPost, "/api/session-workers/"+fs.Arg(0)+"/activate", body)
	defer func() { _ = resp.Body.Close() }()
	printResponseJSON(resp)
}

func sessionGet(args []string) {
	fs, _ := newFlagSet("session get")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "controlplanectl session get: expected <sessionId>")
		os.Exit(1)
	}
	resp := doJSON(fs, http.MethodGet, "/api/session-workers/"+fs.Arg(0), nil)
	defer func() { _ = resp.Body.Close() }()
	printResponseJSON(resp)
}

func doJSON(fs *flag.FlagSet, method, path string, body any) *http.Response {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			fatal(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, baseAddr(fs)+path, reader)
	if err != nil {
		fatal(err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err)
	}
	return resp
}

func printResponseJSON(resp *http.Response) {
	var out bytes.Buffer
	if _, err := io.Copy(&out, resp.Body); err != nil {
		fatal(err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, out.Bytes(), "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(out.String())
	}

	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}

func decodeOrPrintError(resp *http.Response, out any) bool {
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "controlplanectl: request failed (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fatal(err)
	}
	return true
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "controlplanectl: %v\n", err)
	os.Exit(1)
}
