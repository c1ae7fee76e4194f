package modify

import (
	"log/slog"
	"net/http"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"

	"github.com/sunbk201/httpmod/internal/metrics"
)

// modifyHeader applies entries in order. It rewrites or deletes existing
// keys only: a key that is absent is never introduced.
func modifyHeader(h http.Header, entries []MapModify) {
	for _, e := range entries {
		if e.Remove {
			h.Del(e.Key)
			continue
		}
		if e.Value == nil {
			continue
		}
		values := h.Values(e.Key)
		if len(values) == 0 {
			continue
		}

		current := values[0]
		if !utf8.ValidString(current) {
			skipEntry(KindHeader, e.Key, metrics.ReasonInvalidEncoding)
			continue
		}
		value := e.Value.Exec(current)
		if !httpguts.ValidHeaderFieldValue(value) {
			skipEntry(KindHeader, e.Key, metrics.ReasonInvalidValue)
			continue
		}
		h.Set(e.Key, value)
	}
}

func skipEntry(kind Kind, key, reason string) {
	slog.Warn("Skip modify entry", slog.String("kind", string(kind)), slog.String("key", key), slog.String("reason", reason))
	metrics.Get().SkippedTotal.WithLabelValues(string(kind), reason).Inc()
}
