package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sunbk201/httpmod/internal/rule"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"version": s.version,
	})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg)
}

func (s *APIServer) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.rules.Infos())
}

// handleRulesByKind lists the rules editing one of header, cookies or body.
func (s *APIServer) handleRulesByKind(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	rules := make([]rule.Info, 0)
	for _, info := range s.rules.Infos() {
		if info.Kind == kind {
			rules = append(rules, info)
		}
	}
	writeJSON(w, rules)
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		http.Error(w, `{"error":"statistics disabled"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"rewrite":     s.recorder.RewriteRecordList.Snapshot(),
		"passthrough": s.recorder.PassThroughRecordList.Snapshot(),
		"connections": s.recorder.ConnectionRecordList.Snapshot(),
	})
}
