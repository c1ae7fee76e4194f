package modify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

// blockingBody never yields data until closed.
type blockingBody struct {
	closed chan struct{}
}

func newBlockingBody() *blockingBody {
	return &blockingBody{closed: make(chan struct{})}
}

func (b *blockingBody) Read([]byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingBody) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func newTextRequest(contentType string, body io.Reader) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/submit", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func newTextResponse(contentType string, body io.ReadCloser) *http.Response {
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": {contentType}},
		Body:       body,
	}
}

func TestIsTextContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/plain", true},
		{"text/html; charset=utf-8", true},
		{"application/javascript", true},
		{"application/x-javascript", true},
		{"application/octet-text-stream", true},
		{"image/png", false},
		{"application/json", false},
		{"TEXT/HTML", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTextContentType(tt.contentType))
		})
	}
}

func TestRequestBodySet(t *testing.T) {
	req := newTextRequest("text/plain", strings.NewReader("hello"))

	out, err := modifyRequestBody(context.Background(), req, Set("bye"))
	require.NoError(t, err)
	require.NotNil(t, out)

	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(body))
	assert.Equal(t, int64(3), out.ContentLength)

	replay, err := out.GetBody()
	require.NoError(t, err)
	again, _ := io.ReadAll(replay)
	assert.Equal(t, "bye", string(again))
}

func TestRequestBodyNonTextPassthrough(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}
	req := newTextRequest("image/png", bytes.NewReader(payload))
	before := req.Header.Clone()

	out, err := modifyRequestBody(context.Background(), req, Set("bye"))
	require.NoError(t, err)

	assert.Equal(t, before, out.Header)
	assert.Equal(t, int64(len(payload)), out.ContentLength)
	body, _ := io.ReadAll(out.Body)
	assert.Equal(t, payload, body)
}

func TestRequestBodyNonUTF8Unchanged(t *testing.T) {
	payload := []byte{'a', 0xff, 0xfe, 'b'}
	req := newTextRequest("text/plain", bytes.NewReader(payload))

	out, err := modifyRequestBody(context.Background(), req, Set("bye"))
	require.NoError(t, err)
	body, _ := io.ReadAll(out.Body)
	assert.Equal(t, payload, body)
}

func TestRequestBodyDrainFailure(t *testing.T) {
	req := newTextRequest("text/plain", failingReader{})

	out, err := modifyRequestBody(context.Background(), req, Set("bye"))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrBodyDrain)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestRequestBodyContextCancelled(t *testing.T) {
	body := newBlockingBody()
	req := newTextRequest("text/plain", nil)
	req.Body = body

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out, err := modifyRequestBody(ctx, req, Set("bye"))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrBodyDrain)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-body.closed:
	default:
		t.Error("body was not closed after cancellation")
	}
}

func TestResponseBodyReplace(t *testing.T) {
	resp := newTextResponse("application/javascript", io.NopCloser(strings.NewReader("var debug = true;")))

	out := modifyResponseBody(context.Background(), resp, Replace("true", "false"))
	assert.Equal(t, http.StatusOK, out.StatusCode)
	body, _ := io.ReadAll(out.Body)
	assert.Equal(t, "var debug = false;", string(body))
	assert.Equal(t, int64(len("var debug = false;")), out.ContentLength)
}

func TestResponseBodyDrainFailure(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	resp := newTextResponse("text/html", io.NopCloser(failingReader{}))
	resp.Request = req

	out := modifyResponseBody(context.Background(), resp, Set("bye"))
	require.NotNil(t, out)
	assert.Equal(t, http.StatusBadGateway, out.StatusCode)
	assert.Equal(t, "502 Bad Gateway", out.Status)
	assert.Equal(t, "HTTP/1.1", out.Proto)
	assert.Same(t, req, out.Request)

	body, _ := io.ReadAll(out.Body)
	assert.Contains(t, string(body), "connection reset by peer")
	assert.Equal(t, int64(len(body)), out.ContentLength)
}

func TestResponseBodyEmpty(t *testing.T) {
	resp := newTextResponse("text/plain", http.NoBody)

	out := modifyResponseBody(context.Background(), resp, Set("filled"))
	body, _ := io.ReadAll(out.Body)
	assert.Equal(t, "filled", string(body))
}
