package http

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/httpmod/internal/config"
	"github.com/sunbk201/httpmod/internal/regex"
	"github.com/sunbk201/httpmod/internal/rule"
	"github.com/sunbk201/httpmod/internal/statistics"
)

type echoServer struct {
	listener net.Listener
	server   *http.Server
	addr     string
	hits     atomic.Int32
}

func NewEchoServer(t *testing.T) *echoServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create echo server listener: %v", err)
	}
	es := &echoServer{listener: listener, addr: listener.Addr().String()}

	mux := http.NewServeMux()
	mux.HandleFunc("/echo-ua", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	})
	mux.HandleFunc("/echo-cookie", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(r.Header.Get("Cookie")))
	})
	mux.HandleFunc("/echo-body", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/set-cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "theme", Value: "light", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("OK-binary"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	})

	es.server = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.hits.Add(1)
		mux.ServeHTTP(w, r)
	})}
	go func() {
		_ = es.server.Serve(listener)
	}()
	return es
}

func (es *echoServer) close() {
	_ = es.server.Close()
	_ = es.listener.Close()
}

func (es *echoServer) URL(path string) string {
	return fmt.Sprintf("http://%s%s", es.addr, path)
}

// newTestProxy starts a proxy on a free port running rules.
func newTestProxy(t *testing.T, rules []config.Rule) *Server {
	t.Helper()
	cfg := &config.Config{
		BindAddress:     "127.0.0.1",
		ListenAddr:      "127.0.0.1:0",
		LogLevel:        "error",
		UpstreamTimeout: 5 * time.Second,
	}
	cache, err := regex.NewCache(16, 0)
	require.NoError(t, err)

	recorder := statistics.NewRecorder(t.TempDir())
	server := New(cfg, rule.NewEngine(rules, cache, recorder), recorder)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func proxyClient(t *testing.T, s *Server) *http.Client {
	t.Helper()
	proxyURL, err := url.Parse("http://" + s.Addr())
	require.NoError(t, err)
	return &http.Client{
		Transport: &http.Transport{
			Proxy:              http.ProxyURL(proxyURL),
			DisableCompression: true,
		},
		Timeout: 5 * time.Second,
	}
}

func get(t *testing.T, client *http.Client, target string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func strPtr(s string) *string { return &s }

func TestHTTPProxyHeaderRewrite(t *testing.T) {
	echoSrv := NewEchoServer(t)
	defer echoSrv.close()

	tests := []struct {
		name       string
		rules      []config.Rule
		originalUA string
		expectedUA string
	}{
		{
			name: "plain replace",
			rules: []config.Rule{{Direction: "REQUEST", Header: []config.MapModify{
				{Key: "User-Agent", Value: &config.TextModify{Type: "plain", Origin: strPtr("Chrome"), New: "Firefox"}},
			}}},
			originalUA: "Mozilla/5.0 Chrome/120.0",
			expectedUA: "Mozilla/5.0 Firefox/120.0",
		},
		{
			name: "regex replace",
			rules: []config.Rule{{Header: []config.MapModify{
				{Key: "User-Agent", Value: &config.TextModify{Type: "regex", Re: `/(\d+)\.\d+`, New: "/$1.0"}},
			}}},
			originalUA: "MyBrowser/7.3",
			expectedUA: "MyBrowser/7.0",
		},
		{
			name: "response only rule leaves request alone",
			rules: []config.Rule{{Direction: "RESPONSE", Header: []config.MapModify{
				{Key: "User-Agent", Value: &config.TextModify{Type: "set", New: "ShouldNotAppear"}},
			}}},
			originalUA: "OriginalUserAgent/1.0",
			expectedUA: "OriginalUserAgent/1.0",
		},
		{
			name:       "no rules",
			originalUA: "Go-http-client/1.1",
			expectedUA: "Go-http-client/1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestProxy(t, tt.rules)
			client := proxyClient(t, server)

			resp, body := get(t, client, echoSrv.URL("/echo-ua"), http.Header{"User-Agent": {tt.originalUA}})
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.expectedUA, body)
		})
	}
}

func TestHTTPProxyRequestCookieRewrite(t *testing.T) {
	echoSrv := NewEchoServer(t)
	defer echoSrv.close()

	server := newTestProxy(t, []config.Rule{{Direction: "REQUEST", Cookies: []config.MapModify{
		{Key: "a", Value: &config.TextModify{Type: "regex", Re: `^(.*)$`, New: "$1!"}},
	}}})
	client := proxyClient(t, server)

	_, body := get(t, client, echoSrv.URL("/echo-cookie"), http.Header{"Cookie": {"a=1; b=2"}})
	assert.Equal(t, "a=1!; b=2", body)
}

func TestHTTPProxyResponseCookieRewrite(t *testing.T) {
	echoSrv := NewEchoServer(t)
	defer echoSrv.close()

	server := newTestProxy(t, []config.Rule{{Direction: "RESPONSE", Cookies: []config.MapModify{
		{Key: "theme", Value: &config.TextModify{Type: "set", New: "dark"}},
	}}})
	client := proxyClient(t, server)

	resp, _ := get(t, client, echoSrv.URL("/set-cookie"), nil)
	setCookies := resp.Header.Values("Set-Cookie")
	assert.Contains(t, setCookies, "theme=dark")
	assert.Contains(t, setCookies, "sid=abc; Path=/; HttpOnly")
}

func TestHTTPProxyResponseBodyRewrite(t *testing.T) {
	echoSrv := NewEchoServer(t)
	defer echoSrv.close()

	server := newTestProxy(t, []config.Rule{{Direction: "RESPONSE", Body: &config.TextModify{
		Type: "plain", Origin: strPtr("OK"), New: "rewritten body",
	}}})
	client := proxyClient(t, server)

	resp, body := get(t, client, echoSrv.URL("/"), nil)
	assert.Equal(t, "rewritten body", body)
	assert.Equal(t, int64(len("rewritten body")), resp.ContentLength)

	resp, body = get(t, client, echoSrv.URL("/image"), nil)
	assert.Equal(t, "OK-binary", body)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestHTTPProxyRequestBodyRewrite(t *testing.T) {
	echoSrv := NewEchoServer(t)
	defer echoSrv.close()

	server := newTestProxy(t, []config.Rule{{Direction: "REQUEST", Body: &config.TextModify{
		Type: "set", New: "bye",
	}}})
	client := proxyClient(t, server)

	resp, err := client.Post(echoSrv.URL("/echo-body"), "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "bye", string(body))
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestHTTPProxyAbortedRequestIsNotForwarded(t *testing.T) {
	echoSrv := NewEchoServer(t)
	defer echoSrv.close()

	server := newTestProxy(t, []config.Rule{{Direction: "REQUEST", Body: &config.TextModify{
		Type: "set", New: "bye",
	}}})

	req := httptest.NewRequest(http.MethodPost, echoSrv.URL("/echo-body"), io.NopCloser(brokenBody{}))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "client went away")
	assert.Equal(t, int32(0), echoSrv.hits.Load())
}

func TestHTTPProxyUpstreamDown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	_ = listener.Close()

	server := newTestProxy(t, nil)
	resp, _ := get(t, proxyClient(t, server), "http://"+addr+"/", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHTTPProxyCONNECT(t *testing.T) {
	echoSrv := NewEchoServer(t)
	defer echoSrv.close()

	server := newTestProxy(t, []config.Rule{{Header: []config.MapModify{
		{Key: "User-Agent", Value: &config.TextModify{Type: "set", New: "ShouldNotAppear"}},
	}}})

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", echoSrv.addr, echoSrv.addr)
	_, err = conn.Write([]byte(connectReq))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "200 Connection Established")

	// Bytes inside the tunnel are relayed untouched.
	httpReq := "GET /echo-ua HTTP/1.1\r\nHost: " + echoSrv.addr + "\r\nUser-Agent: Tunnelled/1.0\r\n\r\n"
	_, err = conn.Write([]byte(httpReq))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var response strings.Builder
	for !strings.Contains(response.String(), "Tunnelled/1.0") {
		n, err = conn.Read(buf)
		if err != nil {
			break
		}
		response.Write(buf[:n])
	}
	assert.Contains(t, response.String(), "HTTP/1.1 200")
	assert.Contains(t, response.String(), "Tunnelled/1.0")
}

func TestHTTPProxyConcurrentRequests(t *testing.T) {
	echoSrv := NewEchoServer(t)
	defer echoSrv.close()

	server := newTestProxy(t, []config.Rule{{Direction: "REQUEST", Header: []config.MapModify{
		{Key: "User-Agent", Value: &config.TextModify{Type: "regex", Re: `-(\d+)$`, New: "-rewritten-$1"}},
	}}})
	client := proxyClient(t, server)
	client.Transport.(*http.Transport).MaxIdleConnsPerHost = 10

	const numRequests = 20
	var wg sync.WaitGroup
	results := make([]string, numRequests)
	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, echoSrv.URL("/echo-ua"), nil)
			if !assert.NoError(t, err) {
				return
			}
			req.Header.Set("User-Agent", fmt.Sprintf("OriginalUA-%d", id))
			resp, err := client.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = resp.Body.Close() }()
			body, _ := io.ReadAll(resp.Body)
			results[id] = string(body)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, fmt.Sprintf("OriginalUA-rewritten-%d", i), got)
	}
}
