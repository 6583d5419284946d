package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/viewtrack/agent/internal/tui/app"
	"github.com/viewtrack/agent/internal/tui/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8765/feed", "WebSocket URL of the agent's observer feed")
	token := flag.String("token", os.Getenv("VIEWTRACK_TOKEN"), "Auth token (if the agent requires it)")
	logPath := flag.String("log", filepath.Join(os.TempDir(), "viewtrack-tui.log"), "File to write client logs to while the UI is running")
	flag.Parse()

	// The alt-screen owns the terminal, so logs go to a file.
	if f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
		log.SetOutput(f)
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	httpBase := deriveHTTPBase(*wsURL)

	ws := client.NewWSClient(*wsURL, *token)
	defer ws.Close()
	httpClient := client.NewHTTPClient(httpBase, *token)

	m := app.New(ws, httpClient)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/feed → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://127.0.0.1:8765"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
