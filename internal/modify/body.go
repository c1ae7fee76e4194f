package modify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/sunbk201/httpmod/internal/metrics"
)

var ErrBodyDrain = errors.New("failed to read body")

// IsTextContentType reports whether a body with this Content-Type is
// eligible for a text transform. It is a plain substring test.
func IsTextContentType(contentType string) bool {
	return strings.Contains(contentType, "text") || strings.Contains(contentType, "javascript")
}

func modifyRequestBody(ctx context.Context, req *http.Request, action TextModify) (*http.Request, error) {
	if !IsTextContentType(req.Header.Get("Content-Type")) {
		return req, nil
	}

	content, err := drain(ctx, req.Body)
	if err != nil {
		metrics.Get().DrainFailuresTotal.WithLabelValues("request").Inc()
		return nil, fmt.Errorf("%w: %w", ErrBodyDrain, err)
	}

	content = transformText(content, action)
	req.Body = io.NopCloser(bytes.NewReader(content))
	req.ContentLength = int64(len(content))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(content)), nil
	}
	return req, nil
}

func modifyResponseBody(ctx context.Context, resp *http.Response, action TextModify) *http.Response {
	if !IsTextContentType(resp.Header.Get("Content-Type")) {
		return resp
	}

	content, err := drain(ctx, resp.Body)
	if err != nil {
		metrics.Get().DrainFailuresTotal.WithLabelValues("response").Inc()
		slog.Warn("Response body drain failed", slog.Any("error", err))
		return badGateway(resp, err)
	}

	content = transformText(content, action)
	resp.Body = io.NopCloser(bytes.NewReader(content))
	resp.ContentLength = int64(len(content))
	return resp
}

// transformText applies action when content is valid UTF-8 and returns
// content untouched otherwise.
func transformText(content []byte, action TextModify) []byte {
	if !utf8.Valid(content) {
		return content
	}
	return []byte(action.Exec(string(content)))
}

// drain reads body to the end and closes it. When ctx is done first the
// body is closed, which unblocks the pending read, and ctx.Err is returned.
func drain(ctx context.Context, body io.ReadCloser) ([]byte, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}

	type result struct {
		content []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		content, err := io.ReadAll(body)
		done <- result{content: content, err: err}
	}()

	select {
	case r := <-done:
		_ = body.Close()
		return r.content, r.err
	case <-ctx.Done():
		_ = body.Close()
		return nil, ctx.Err()
	}
}

func badGateway(resp *http.Response, err error) *http.Response {
	text := err.Error()
	proto, major, minor := resp.Proto, resp.ProtoMajor, resp.ProtoMinor
	if proto == "" {
		proto, major, minor = "HTTP/1.1", 1, 1
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusBadGateway, http.StatusText(http.StatusBadGateway)),
		StatusCode:    http.StatusBadGateway,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(text)),
		ContentLength: int64(len(text)),
		Request:       resp.Request,
	}
}
