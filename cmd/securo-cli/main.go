package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
)

func main() {
	var (
		addrF    = flag.String("url", "http://localhost:8080", "URL to service host")
		verboseF = flag.Bool("verbose", false, "Print request and response details")
		vF       = flag.Bool("v", false, "Print request and response details")
		timeoutF = flag.Int("timeout", 30, "Maximum number of seconds to wait for response")
		tokenF   = flag.String("token", os.Getenv("SECURO_TOKEN"), "Bearer token for guarded routes")
	)
	flag.Usage = usage
	flag.Parse()

	u, err := url.Parse(*addrF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid URL %#v: %s\n", *addrF, err)
		os.Exit(1)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		fmt.Fprintf(os.Stderr, "invalid scheme: %q (valid schemes: http|https)\n", u.Scheme)
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	c := newClient(u.String(), *tokenF, *timeoutF, *verboseF || *vF)
	if err := run(c, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(c *client, command string, args []string) error {
	switch command {
	case "status":
		var status struct {
			State        string   `json:"state"`
			ActiveModels []string `json:"active_models"`
			HasFrame     bool     `json:"has_frame"`
			Camera       *struct {
				Name string `json:"name"`
			} `json:"camera"`
			Stats map[string]int64 `json:"stats"`
		}
		if err := c.do("GET", "/pipeline/status", nil, &status); err != nil {
			return err
		}
		fmt.Printf("state:    %s\n", status.State)
		if status.Camera != nil {
			fmt.Printf("camera:   %s\n", status.Camera.Name)
		}
		fmt.Printf("models:   %s\n", strings.Join(status.ActiveModels, ", "))
		fmt.Printf("frames:   %d\n", status.Stats["frames_processed"])
		fmt.Printf("events:   %d accepted, %d throttled\n", status.Stats["events_accepted"], status.Stats["events_throttled"])
		return nil

	case "start":
		body := map[string][]string{}
		if len(args) > 0 {
			body["models"] = args
		}
		return printMessage(c, "POST", "/pipeline/start", body)

	case "stop":
		return printMessage(c, "POST", "/pipeline/stop", nil)

	case "models":
		var models map[string]bool
		if err := c.do("GET", "/pipeline/models/status", nil, &models); err != nil {
			return err
		}
		ids := make([]string, 0, len(models))
		for id := range models {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			mark := " "
			if models[id] {
				mark = "*"
			}
			fmt.Printf("%s %s\n", mark, id)
		}
		return nil

	case "activate", "deactivate":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <model>", command)
		}
		return printMessage(c, "POST", "/pipeline/model/"+url.PathEscape(args[0])+"/"+command, nil)

	case "cameras":
		var cameras []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Location string `json:"location"`
			Source   string `json:"source"`
			IsActive bool   `json:"is_active"`
		}
		if err := c.do("GET", "/cameras", nil, &cameras); err != nil {
			return err
		}
		for _, cam := range cameras {
			mark := " "
			if cam.IsActive {
				mark = "*"
			}
			fmt.Printf("%s %s  %s (%s, %s)\n", mark, cam.ID, cam.Name, cam.Location, cam.Source)
		}
		return nil

	case "anomalies":
		limit := 10
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			limit = n
		}
		var list json.RawMessage
		if err := c.do("GET", "/anomalies?limit="+strconv.Itoa(limit), nil, &list); err != nil {
			return err
		}
		return printJSON(list)

	case "system":
		var status json.RawMessage
		if err := c.do("GET", "/system/status", nil, &status); err != nil {
			return err
		}
		return printJSON(status)

	case "login":
		if len(args) != 2 {
			return fmt.Errorf("usage: login <username> <password>")
		}
		var result struct {
			Token string `json:"token"`
		}
		if err := c.do("POST", "/auth/login", map[string]string{"username": args[0], "password": args[1]}, &result); err != nil {
			return err
		}
		fmt.Println(result.Token)
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printMessage(c *client, method, path string, body any) error {
	var msg struct {
		Message string `json:"message"`
	}
	if err := c.do(method, path, body, &msg); err != nil {
		return err
	}
	fmt.Println(msg.Message)
	return nil
}

func printJSON(raw json.RawMessage) error {
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s is a command line client for the securo API.
Usage:
    %s [-url URL][-timeout SECONDS][-token TOKEN][-verbose|-v] COMMAND [ARGS]

COMMAND:
    status                  Pipeline state and loop counters
    start [MODEL...]        Start capture on the active camera
    stop                    Stop capture
    models                  List models, * marks active ones
    activate MODEL          Enable a model
    deactivate MODEL        Disable a model
    cameras                 List cameras, * marks the active one
    anomalies [LIMIT]       Most recent anomalies
    system                  Service status
    login USER PASSWORD     Print a bearer token

Example:
    %s -url http://localhost:8080 start fire weapon
`, os.Args[0], os.Args[0], os.Args[0])
}
