// Package http is the forward proxy front end. Plain HTTP exchanges run
// through the rule engine; CONNECT tunnels are relayed untouched.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/sunbk201/httpmod/internal/common"
	"github.com/sunbk201/httpmod/internal/config"
	"github.com/sunbk201/httpmod/internal/log"
	"github.com/sunbk201/httpmod/internal/statistics"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg       *config.Config
	rewriter  common.Rewriter
	recorder  *statistics.Recorder
	dialer    *net.Dialer
	transport *http.Transport

	server   *http.Server
	listener net.Listener
}

var _ common.Server = (*Server)(nil)

func New(cfg *config.Config, rw common.Rewriter, recorder *statistics.Recorder) *Server {
	dialer := &net.Dialer{
		Timeout:   cfg.UpstreamTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &Server{
		cfg:      cfg,
		rewriter: rw,
		recorder: recorder,
		dialer:   dialer,
		transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamTimeout,
			ExpectContinueTimeout: time.Second,
		},
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}

	slog.Info("HTTP proxy listening", slog.String("addr", listener.Addr().String()))
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("s.server.Serve", slog.Any("error", err))
		}
	}()
	return nil
}

// Addr is the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.transport.CloseIdleConnections()
	return err
}

func (s *Server) GetRewriter() common.Rewriter {
	return s.rewriter
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect {
		s.handleTunneling(w, req)
		return
	}
	s.handleHTTP(w, req)
}

func (s *Server) handleHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Host == "" {
		req.URL.Host = req.Host
	}
	if req.URL.Scheme == "" {
		req.URL.Scheme = "http"
	}
	if req.URL.Host == "" {
		http.Error(w, "missing host", http.StatusBadRequest)
		return
	}

	ctx := req.Context()
	metadata := &common.Metadata{Request: req}
	var requestDecision, responseDecision *common.RewriteDecision

	if s.rewriter.ServeRequest() {
		decision, err := s.rewriter.RewriteRequest(ctx, metadata)
		if err != nil {
			log.LogWarnWithAddr(metadata.SrcAddr(), metadata.DestAddr(), fmt.Sprintf("Request dropped: %v", err))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		requestDecision = decision
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.Host = pr.In.Host
		},
		Transport: s.transport,
		ModifyResponse: func(resp *http.Response) error {
			metadata.UpdateResponse(resp)
			if s.rewriter.ServeResponse() {
				responseDecision = s.rewriter.RewriteResponse(ctx, metadata)
				if metadata.Response != resp {
					*resp = *metadata.Response
				}
			}
			syncContentLength(resp)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.LogWarnWithAddr(metadata.SrcAddr(), metadata.DestAddr(), fmt.Sprintf("Upstream error: %v", err))
			http.Error(w, err.Error(), http.StatusBadGateway)
		},
	}
	proxy.ServeHTTP(w, metadata.Request)

	if !modified(requestDecision) && !modified(responseDecision) {
		s.recorder.AddRecord(&statistics.PassThroughRecord{
			SrcAddr: metadata.SrcAddr(),
			Host:    metadata.Host(),
			Method:  req.Method,
		})
	}
}

func modified(d *common.RewriteDecision) bool {
	return d != nil && d.Modified
}

// syncContentLength makes the Content-Length header agree with the body
// that will actually be written.
func syncContentLength(resp *http.Response) {
	switch {
	case resp.StatusCode < 200, resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotModified:
		return
	case resp.Request != nil && resp.Request.Method == http.MethodHead:
		return
	}
	if resp.ContentLength >= 0 {
		resp.Header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
		return
	}
	resp.Header.Del("Content-Length")
}

func (s *Server) handleTunneling(w http.ResponseWriter, req *http.Request) {
	destAddr := req.Host
	log.LogInfoWithAddr(req.RemoteAddr, destAddr, "HTTP CONNECT")

	dest, err := s.dialer.DialContext(req.Context(), "tcp", destAddr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = dest.Close()
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, _, err := hijacker.Hijack()
	if err != nil {
		_ = dest.Close()
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if _, err := io.WriteString(client, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		log.LogWarnWithAddr(req.RemoteAddr, destAddr, fmt.Sprintf("failed to write CONNECT response: %v", err))
		_ = client.Close()
		_ = dest.Close()
		return
	}

	link := &common.ConnLink{
		LConn: client,
		RConn: dest,
		LAddr: req.RemoteAddr,
		RAddr: destAddr,
	}
	s.forwardTCP(link)
}

// forwardTCP relays both directions and drops the connection record once
// both halves are done.
func (s *Server) forwardTCP(link *common.ConnLink) {
	record := &statistics.ConnectionRecord{
		SrcAddr:   link.LAddr,
		DestAddr:  link.RAddr,
		StartTime: time.Now(),
	}
	s.recorder.AddRecord(record)

	done := make(chan struct{}, 2)
	go func() {
		link.CopyRL()
		done <- struct{}{}
	}()
	go func() {
		link.CopyLR()
		done <- struct{}{}
	}()
	go func() {
		<-done
		<-done
		_ = link.Close()
		s.recorder.RemoveRecord(record)
	}()
}
