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
	"time"
)

// client talks to the mindprint HTTP API as one user.
type client struct {
	server string
	user   string
	http   *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:3210", "mindprint server URL")
	user := flag.String("user", "cli-user", "requester id sent as X-User-ID")
	profileID := flag.String("profile", "", "resume an existing profile instead of creating one")
	name := flag.String("name", "", "name of the person to profile (new profiles)")
	tier := flag.String("tier", "standard", "standard or trial")
	flag.Parse()

	c := &client{server: strings.TrimRight(*server, "/"), user: *user, http: &http.Client{Timeout: 90 * time.Second}}
	in := bufio.NewScanner(os.Stdin)

	fmt.Println("mindprint interview")
	fmt.Printf("Server: %s | User: %s\n", c.server, c.user)
	fmt.Println("Type '/skip' to stop the interview early, 'exit' or 'quit' to leave.")
	fmt.Println("---")

	id := *profileID
	if id == "" {
		n := *name
		if n == "" {
			n = prompt(in, "Whose mind are we mapping? ")
		}
		var p struct {
			ID              string `json:"id"`
			MinInteractions int    `json:"min_interactions"`
		}
		if err := c.call("POST", "/api/profiles", map[string]string{"name": n, "tier": *tier}, &p); err != nil {
			fatal("create profile: %v", err)
		}
		id = p.ID
		fmt.Printf("Profile %s created; %d answers needed.\n", id, p.MinInteractions)
	}

	if !interview(c, in, id) {
		return
	}
	converse(c, in, id)
}

type progress struct {
	Status     string `json:"status"`
	Completion int    `json:"completion"`
	Ready      bool   `json:"ready"`
}

// interview loops question and answer until the profile activates. It
// reports false when the user quits.
func interview(c *client, in *bufio.Scanner, profileID string) bool {
	for {
		var prog progress
		if err := c.call("GET", "/api/profiles/"+profileID+"/progress", nil, &prog); err != nil {
			fatal("progress: %v", err)
		}
		if prog.Status == "active" {
			fmt.Println("\033[32mProfile is active.\033[0m")
			return true
		}

		var q struct {
			ID       string `json:"id"`
			Category string `json:"category"`
			Text     string `json:"text"`
			Turn     int    `json:"turn"`
		}
		if err := c.call("POST", "/api/profiles/"+profileID+"/questions/next", nil, &q); err != nil {
			fatal("next question: %v", err)
		}
		fmt.Printf("\n\033[36m[%d%% | %s]\033[0m %s\n", prog.Completion, q.Category, q.Text)

		answer := prompt(in, "> ")
		switch answer {
		case "exit", "quit":
			fmt.Println("Bye!")
			return false
		case "/skip":
			if err := c.call("POST", "/api/profiles/"+profileID+"/activate", nil, &prog); err != nil {
				printError("%v", err)
				continue
			}
			return true
		case "":
			continue
		}

		var res struct {
			Activated bool `json:"activated"`
		}
		if err := c.call("POST", "/api/questions/"+q.ID+"/answer", map[string]string{"answer": answer}, &res); err != nil {
			printError("%v", err)
			continue
		}
		if res.Activated {
			fmt.Println("\033[32mEnough to go on. Profile is active.\033[0m")
			return true
		}
	}
}

func converse(c *client, in *bufio.Scanner, profileID string) {
	var s struct {
		ID string `json:"id"`
	}
	if err := c.call("POST", "/api/profiles/"+profileID+"/sessions", map[string]string{}, &s); err != nil {
		fatal("start session: %v", err)
	}
	fmt.Println("--- chat (exit to leave) ---")
	for {
		line := prompt(in, "\n> ")
		if line == "exit" || line == "quit" {
			fmt.Println("Bye!")
			return
		}
		if line == "" {
			continue
		}
		if err := c.stream(s.ID, line); err != nil {
			printError("%v", err)
		}
	}
}

// stream prints delta events as they arrive.
func (c *client) stream(sessionID, content string) error {
	body, _ := json.Marshal(map[string]string{"content": content})
	req, err := http.NewRequest("POST", c.server+"/api/sessions/"+sessionID+"/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-User-ID", c.user)

	// No client timeout: a reply may take longer than any fixed bound.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	sc := bufio.NewScanner(resp.Body)
	var event string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch event {
			case "delta":
				var d struct {
					Delta string `json:"delta"`
				}
				json.Unmarshal(data, &d)
				fmt.Print(d.Delta)
			case "error":
				var e struct {
					Error string `json:"error"`
				}
				json.Unmarshal(data, &e)
				return fmt.Errorf("%s", e.Error)
			case "done":
				fmt.Println()
			}
		}
	}
	return sc.Err()
}

func (c *client) call(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.server+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func prompt(in *bufio.Scanner, p string) string {
	fmt.Print(p)
	if !in.Scan() {
		fmt.Println()
		os.Exit(0)
	}
	return strings.TrimSpace(in.Text())
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}

func fatal(format string, args ...any) {
	printError(format, args...)
	os.Exit(1)
}
