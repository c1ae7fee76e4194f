// Package modify rewrites the headers, cookies or text body of a single
// in-flight request or response according to one declarative rule.
package modify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sunbk201/httpmod/internal/config"
	"github.com/sunbk201/httpmod/internal/regex"
)

type Kind string

const (
	KindHeader  Kind = "header"
	KindCookies Kind = "cookies"
	KindBody    Kind = "body"
)

var (
	ErrNoModify       = errors.New("rule has no header, cookies or body")
	ErrMultipleModify = errors.New("rule sets more than one of header, cookies and body")
)

// MapModify edits one key of a header map or cookie jar. Remove takes
// precedence over Value; a nil Value leaves the entry untouched.
type MapModify struct {
	Key    string
	Value  *TextModify
	Remove bool
}

// Modify is one of Header, Cookies or Body. It is immutable once built and
// safe to share between concurrent exchanges.
type Modify struct {
	kind    Kind
	entries []MapModify
	body    TextModify
}

func Header(entries ...MapModify) *Modify {
	return &Modify{kind: KindHeader, entries: entries}
}

func Cookies(entries ...MapModify) *Modify {
	return &Modify{kind: KindCookies, entries: entries}
}

func Body(action TextModify) *Modify {
	return &Modify{kind: KindBody, body: action}
}

// New builds a Modify from a normalized configuration rule.
func New(rule *config.Rule, cache *regex.Cache) (*Modify, error) {
	set := 0
	if rule.Header != nil {
		set++
	}
	if rule.Cookies != nil || rule.Cookie != nil {
		set++
	}
	if rule.Body != nil {
		set++
	}
	switch {
	case set == 0:
		return nil, ErrNoModify
	case set > 1:
		return nil, ErrMultipleModify
	}

	if rule.Body != nil {
		action, err := NewTextModify(rule.Body, cache)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		return Body(action), nil
	}

	if rule.Header != nil {
		entries, err := newMapModifies(rule.Header, cache)
		if err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		return Header(entries...), nil
	}

	cookies := append(append([]config.MapModify{}, rule.Cookies...), rule.Cookie...)
	entries, err := newMapModifies(cookies, cache)
	if err != nil {
		return nil, fmt.Errorf("cookies: %w", err)
	}
	for _, e := range entries {
		if !validCookieName(e.Key) {
			return nil, fmt.Errorf("cookies: invalid cookie name %q", e.Key)
		}
	}
	return Cookies(entries...), nil
}

func newMapModifies(cfgs []config.MapModify, cache *regex.Cache) ([]MapModify, error) {
	entries := make([]MapModify, 0, len(cfgs))
	for i := range cfgs {
		c := &cfgs[i]
		entry := MapModify{Key: c.Key, Remove: c.Remove}
		if c.Value != nil && !c.Remove {
			action, err := NewTextModify(c.Value, cache)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", c.Key, err)
			}
			entry.Value = &action
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *Modify) Kind() Kind {
	return m.kind
}

func (m *Modify) Entries() []MapModify {
	return m.entries
}

// ApplyToRequest rewrites req and returns the request to forward. A non-nil
// error means the request must not be sent; it only happens when a body
// rule cannot read the request body.
func (m *Modify) ApplyToRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	switch m.kind {
	case KindHeader:
		modifyHeader(req.Header, m.entries)
		return req, nil
	case KindCookies:
		modifyRequestCookies(req.Header, m.entries)
		return req, nil
	case KindBody:
		return modifyRequestBody(ctx, req, m.body)
	default:
		return req, nil
	}
}

// ApplyToResponse rewrites resp. A body that cannot be read turns into a
// 502 Bad Gateway response carrying the read error.
func (m *Modify) ApplyToResponse(ctx context.Context, resp *http.Response) *http.Response {
	switch m.kind {
	case KindHeader:
		modifyHeader(resp.Header, m.entries)
		return resp
	case KindCookies:
		modifyResponseCookies(resp.Header, m.entries)
		return resp
	case KindBody:
		return modifyResponseBody(ctx, resp, m.body)
	default:
		return resp
	}
}

func (m *Modify) LogValue() slog.Value {
	if m.kind == KindBody {
		return slog.GroupValue(
			slog.String("kind", string(m.kind)),
			slog.Any("action", m.body),
		)
	}
	keys := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		keys = append(keys, e.Key)
	}
	return slog.GroupValue(
		slog.String("kind", string(m.kind)),
		slog.String("keys", strings.Join(keys, ",")),
	)
}
