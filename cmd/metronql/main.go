// metronql is an interactive console for a running metrond.
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
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"
)

func main() {
	base := flag.String("url", "http://127.0.0.1:9090", "metrond base URL")
	flag.Parse()

	c := &console{
		base: strings.TrimRight(*base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}

	fmt.Printf("metronql connected to %s (type 'help' for commands)\n", c.base)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		p := prompt.New(
			c.execute,
			completer,
			prompt.OptionPrefix("metron> "),
			prompt.OptionTitle("metronql"),
		)
		p.Run()
		return
	}

	// Piped input: plain line loop.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		c.execute(scanner.Text())
	}
}

var commands = []prompt.Suggest{
	{Text: "register", Description: "register <name> <gauge|counter>"},
	{Text: "auto-tag", Description: "auto-tag <metric> <key>"},
	{Text: "insert", Description: "insert <kind> <metric> <time> <value> [key:value ...]"},
	{Text: "query", Description: "query <metric> <operation> <duration> <start> <end> [group_by]"},
	{Text: "metrics", Description: "list registered metrics"},
	{Text: "stats", Description: "show ingest statistics"},
	{Text: "sql", Description: "sql <statement> (over Parquet exports)"},
	{Text: "export", Description: "export <metric> <operation> <duration> <start> <end>"},
	{Text: "help", Description: "show commands"},
	{Text: "exit", Description: "quit"},
}

func completer(d prompt.Document) []prompt.Suggest {
	if d.TextBeforeCursor() != d.GetWordBeforeCursor() {
		return nil
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

type console struct {
	base string
	http *http.Client
}

func (c *console) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	var err error
	switch fields[0] {
	case "register":
		err = c.register(fields[1:])
	case "auto-tag":
		err = c.autoTag(fields[1:])
	case "insert":
		err = c.insert(fields[1:])
	case "query":
		err = c.query(fields[1:], "/metrics/query/")
	case "export":
		err = c.query(fields[1:], "/export/")
	case "metrics":
		err = c.call("GET", "/metrics", nil)
	case "stats":
		err = c.call("GET", "/stats", nil)
	case "sql":
		err = c.call("POST", "/export/query", map[string]any{
			"sql": strings.TrimSpace(strings.TrimPrefix(line, "sql")),
		})
	case "help":
		for _, cmd := range commands {
			fmt.Printf("  %-10s %s\n", cmd.Text, cmd.Description)
		}
	case "exit", "quit":
		os.Exit(0)
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", fields[0])
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
}

func (c *console) register(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: register <name> <gauge|counter>")
	}
	return c.call("POST", "/metrics/"+args[1], map[string]any{"name": args[0]})
}

func (c *console) autoTag(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: auto-tag <metric> <key>")
	}
	return c.call("POST", "/metrics/auto-primary-tag/"+args[0], map[string]any{"key": args[1]})
}

func (c *console) insert(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: insert <kind> <metric> <time> <value> [key:value ...]")
	}
	t, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("time: %w", err)
	}
	v, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	tags := args[4:]
	if tags == nil {
		tags = []string{}
	}
	body := []map[string]any{{"time": t, "value": v, "tags": tags}}
	return c.call("PUT", "/metrics/"+args[0]+"/"+args[1], body)
}

func (c *console) query(args []string, route string) error {
	if len(args) < 5 {
		return fmt.Errorf("usage: %s <metric> <operation> <duration> <start> <end> [group_by]",
			strings.Trim(route, "/"))
	}
	duration, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	start, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := strconv.ParseFloat(args[4], 64)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}

	body := map[string]any{
		"operation": args[1],
		"duration":  duration,
		"start":     start,
		"end":       end,
	}
	if len(args) > 5 {
		body["group_by"] = args[5]
	}
	return c.call("POST", route+args[0], body)
}

// call issues one request and pretty-prints the JSON response.
func (c *console) call(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		pretty.Write(data)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, pretty.String())
	}
	fmt.Println(pretty.String())
	return nil
}
