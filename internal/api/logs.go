package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var logFilterValues = map[string][]string{
	"level":     {"DEBUG", "INFO", "WARN", "ERROR"},
	"kind":      {"header", "cookies", "body"},
	"direction": {"request", "response"},
}

// logFilter keeps the lines carrying every requested attribute, written the
// way the text handler writes them (rule=ua kind=header direction=request).
type logFilter struct {
	tokens []string
}

// newLogFilter reads the level, rule, kind and direction query parameters.
func newLogFilter(q url.Values) (*logFilter, error) {
	f := &logFilter{}
	for _, key := range []string{"level", "rule", "kind", "direction"} {
		value := q.Get(key)
		if value == "" {
			continue
		}
		if key == "level" {
			value = strings.ToUpper(value)
		} else if key != "rule" {
			value = strings.ToLower(value)
		}
		if allowed, ok := logFilterValues[key]; ok && !slices.Contains(allowed, value) {
			return nil, fmt.Errorf("invalid %s %q", key, value)
		}
		f.tokens = append(f.tokens, attrToken(key, value))
	}
	return f, nil
}

func (f *logFilter) Match(line []byte) bool {
	if len(f.tokens) == 0 {
		return true
	}
	padded := " " + strings.TrimRight(string(line), "\n") + " "
	for _, token := range f.tokens {
		if !strings.Contains(padded, " "+token+" ") {
			return false
		}
	}
	return true
}

func attrToken(key, value string) string {
	quote := strings.ContainsFunc(value, func(r rune) bool {
		return r == '=' || r == '"' || unicode.IsSpace(r) || !unicode.IsPrint(r)
	})
	if quote {
		return key + "=" + strconv.Quote(value)
	}
	return key + "=" + value
}

// handleLogs streams matching log lines as they are written: one text
// message per line over WebSocket, or chunked text/plain otherwise.
func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logBroadcaster == nil {
		http.Error(w, "log streaming disabled", http.StatusNotFound)
		return
	}
	filter, err := newLogFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleLogsWS(w, r, filter)
		return
	}
	s.handleLogsHTTP(w, r, filter)
}

func (s *APIServer) handleLogsWS(w http.ResponseWriter, r *http.Request, filter *logFilter) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrader.Upgrade", slog.Any("error", err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.streamLogs(ctx, filter, func(line []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, line)
	})
}

func (s *APIServer) handleLogsHTTP(w http.ResponseWriter, r *http.Request, filter *logFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.streamLogs(r.Context(), filter, func(line []byte) error {
		if _, err := w.Write(line); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
}

// streamLogs feeds every line passing filter to send until ctx is done or
// send fails.
func (s *APIServer) streamLogs(ctx context.Context, filter *logFilter, send func([]byte) error) {
	ch := s.logBroadcaster.Subscribe()
	defer s.logBroadcaster.Unsubscribe(ch)

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return
			}
			if !filter.Match(line) {
				continue
			}
			if err := send(line); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
