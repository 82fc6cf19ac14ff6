// enginestub emulates the compute engine's HTTP and websocket surface so
// wanbridge can be exercised end to end without a GPU: graph submission,
// progress events, history lookup, and a readiness probe.
// Usage: go run ./cmd/enginestub
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stub holds the fake engine's state: one websocket per session and a counter
// for prompt ids.
type stub struct {
	mu        sync.Mutex
	conns     map[string]*websocket.Conn
	counter   int
	delay     time.Duration
	outputDir string
	logger    *slog.Logger
}

func (s *stub) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade", "error", err)
		return
	}

	s.mu.Lock()
	s.conns[clientID] = conn
	s.mu.Unlock()
	s.logger.Info("session connected", "client_id", clientID)
}

func (s *stub) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt   map[string]json.RawMessage `json:"prompt"`
		ClientID string                     `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Prompt) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid prompt"})
		return
	}

	s.mu.Lock()
	s.counter++
	promptID := fmt.Sprintf("stub-%04d", s.counter)
	s.mu.Unlock()

	s.logger.Info("prompt queued", "prompt_id", promptID, "client_id", req.ClientID, "nodes", len(req.Prompt))
	go s.execute(promptID, req.ClientID)

	json.NewEncoder(w).Encode(map[string]string{"prompt_id": promptID})
}

// execute plays back a plausible event sequence and drops an artifact where
// history will point.
func (s *stub) execute(promptID, clientID string) {
	path := filepath.Join(s.outputDir, artifactName(promptID))
	if err := os.WriteFile(path, []byte("stub video payload"), 0o644); err != nil {
		s.logger.Error("write artifact", "error", err)
	}

	for _, node := range []string{"244", "541", "220", "540", "131"} {
		s.send(clientID, fmt.Sprintf(`{"type":"executing","data":{"node":"%s","prompt_id":"%s"}}`, node, promptID))
		time.Sleep(s.delay)
	}
	s.send(clientID, fmt.Sprintf(`{"type":"executing","data":{"node":null,"prompt_id":"%s"}}`, promptID))
}

func (s *stub) send(clientID, payload string) {
	s.mu.Lock()
	conn := s.conns[clientID]
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		s.logger.Error("send event", "client_id", clientID, "error", err)
	}
}

func (s *stub) handleHistory(w http.ResponseWriter, r *http.Request) {
	promptID := strings.TrimPrefix(r.URL.Path, "/history/")

	record := map[string]any{
		promptID: map[string]any{
			"outputs": map[string]any{
				"131": map[string]any{
					"gifs": []map[string]any{
						{"filename": artifactName(promptID), "subfolder": "", "type": "output"},
					},
				},
			},
		},
	}
	json.NewEncoder(w).Encode(record)
}

func artifactName(promptID string) string {
	return "wan_" + promptID + ".mp4"
}

func main() {
	addr := "127.0.0.1:8188"
	if v := os.Getenv("ENGINESTUB_ADDR"); v != "" {
		addr = v
	}
	outputDir := "output"
	if v := os.Getenv("ENGINESTUB_OUTPUT_DIR"); v != "" {
		outputDir = v
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := &stub{
		conns:     make(map[string]*websocket.Conn),
		delay:     200 * time.Millisecond,
		outputDir: outputDir,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /system_stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"system": map[string]any{"os": "stub"}})
	})
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /prompt", s.handlePrompt)
	mux.HandleFunc("GET /history/", s.handleHistory)

	logger.Info("enginestub: listening", "addr", addr, "output_dir", outputDir)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
