// Package rule holds the ordered list of modify rules the proxy runs on
// every exchange. It does no matching: each enabled rule applies to every
// exchange flowing in its direction.
package rule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sunbk201/httpmod/internal/common"
	"github.com/sunbk201/httpmod/internal/config"
	"github.com/sunbk201/httpmod/internal/metrics"
	"github.com/sunbk201/httpmod/internal/modify"
	"github.com/sunbk201/httpmod/internal/regex"
	"github.com/sunbk201/httpmod/internal/statistics"
)

type Rule struct {
	Name      string
	Direction common.Direction
	Modify    *modify.Modify
}

func (r *Rule) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", r.Name),
		slog.String("direction", string(r.Direction)),
		slog.Any("modify", r.Modify),
	)
}

// Info is the JSON view of a rule served by the admin API.
type Info struct {
	Name      string   `json:"name"`
	Direction string   `json:"direction"`
	Kind      string   `json:"kind"`
	Keys      []string `json:"keys,omitempty"`
}

type Engine struct {
	rules         []*Rule
	recorder      *statistics.Recorder
	serveRequest  bool
	serveResponse bool
}

var _ common.Rewriter = (*Engine)(nil)

// NewEngine builds every enabled rule. A rule that fails validation or
// references an invalid pattern is logged and left out; it never stops the
// proxy from starting.
func NewEngine(rules []config.Rule, cache *regex.Cache, recorder *statistics.Recorder) *Engine {
	e := &Engine{recorder: recorder}
	validate := validator.New()

	for i := range rules {
		cfg := &rules[i]
		if !cfg.IsEnabled() {
			continue
		}
		cfg.Normalize()

		if err := validate.Struct(cfg); err != nil {
			slog.Warn("Invalid rule", slog.Any("rule", cfg), slog.Any("error", err))
			continue
		}
		m, err := modify.New(cfg, cache)
		if err != nil {
			slog.Warn("Invalid rule", slog.Any("rule", cfg), slog.Any("error", err))
			continue
		}

		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		r := &Rule{Name: name, Direction: cfg.Direction, Modify: m}
		e.rules = append(e.rules, r)

		if common.Covers(r.Direction, common.DirectionRequest) {
			e.serveRequest = true
		}
		if common.Covers(r.Direction, common.DirectionResponse) {
			e.serveResponse = true
		}
	}
	slog.Info("Rules loaded", slog.Int("enabled", len(e.rules)), slog.Int("configured", len(rules)))
	return e
}

func (e *Engine) ServeRequest() bool {
	return e.serveRequest
}

func (e *Engine) ServeResponse() bool {
	return e.serveResponse
}

func (e *Engine) Rules() []*Rule {
	return e.rules
}

func (e *Engine) Infos() []Info {
	infos := make([]Info, 0, len(e.rules))
	for _, r := range e.rules {
		info := Info{
			Name:      r.Name,
			Direction: string(r.Direction),
			Kind:      string(r.Modify.Kind()),
		}
		for _, entry := range r.Modify.Entries() {
			info.Keys = append(info.Keys, entry.Key)
		}
		infos = append(infos, info)
	}
	return infos
}

// RewriteRequest runs the request rules in order against metadata.Request.
// The first rule that fails stops the chain and the request must be dropped.
func (e *Engine) RewriteRequest(ctx context.Context, metadata *common.Metadata) (*common.RewriteDecision, error) {
	decision := &common.RewriteDecision{}
	if metadata.Request == nil {
		return decision, nil
	}

	for _, r := range e.rules {
		if !common.Covers(r.Direction, common.DirectionRequest) {
			continue
		}
		req, err := r.Modify.ApplyToRequest(ctx, metadata.Request)
		if err != nil {
			slog.Warn("Rule aborted request",
				slog.String("rule", r.Name),
				slog.String("kind", string(r.Modify.Kind())),
				slog.String("direction", "request"),
				slog.String("src", metadata.SrcAddr()),
				slog.String("dest", metadata.DestAddr()),
				slog.Any("error", err),
			)
			return decision, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		metadata.UpdateRequest(req)
		e.applied(r, metadata, common.DirectionRequest, decision)
	}
	return decision, nil
}

// RewriteResponse runs the response rules in order against
// metadata.Response. It never fails; an unreadable body becomes a 502.
func (e *Engine) RewriteResponse(ctx context.Context, metadata *common.Metadata) *common.RewriteDecision {
	decision := &common.RewriteDecision{}
	if metadata.Response == nil {
		return decision
	}

	for _, r := range e.rules {
		if !common.Covers(r.Direction, common.DirectionResponse) {
			continue
		}
		metadata.UpdateResponse(r.Modify.ApplyToResponse(ctx, metadata.Response))
		e.applied(r, metadata, common.DirectionResponse, decision)
	}
	return decision
}

func (e *Engine) applied(r *Rule, metadata *common.Metadata, dir common.Direction, decision *common.RewriteDecision) {
	direction := strings.ToLower(string(dir))
	kind := string(r.Modify.Kind())

	decision.Applied = append(decision.Applied, r.Name)
	decision.Modified = true

	metrics.Get().AppliedTotal.WithLabelValues(kind, direction).Inc()
	e.recorder.AddRecord(&statistics.RewriteRecord{
		Host:      metadata.Host(),
		Kind:      kind,
		Direction: direction,
		Rule:      r.Name,
	})
	slog.Debug("Rule applied",
		slog.String("rule", r.Name),
		slog.String("kind", kind),
		slog.String("direction", direction),
		slog.String("src", metadata.SrcAddr()),
		slog.String("dest", metadata.DestAddr()),
	)
}
