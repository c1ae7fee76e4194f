package common

import (
	"log/slog"
	"net"
	"net/http"
)

// Metadata carries one exchange through the rewriters.
type Metadata struct {
	ConnLink *ConnLink
	Request  *http.Request
	Response *http.Response

	destAddr string
}

func (m *Metadata) UpdateRequest(req *http.Request) {
	m.Request = req
	m.destAddr = ""
}

func (m *Metadata) UpdateResponse(resp *http.Response) {
	m.Response = resp
}

func (m *Metadata) SrcAddr() string {
	if m.ConnLink != nil {
		return m.ConnLink.LAddr
	}
	if m.Request != nil {
		return m.Request.RemoteAddr
	}
	return ""
}

func (m *Metadata) DestPort() string {
	if m.Request == nil || m.Request.URL == nil {
		return ""
	}
	if port := m.Request.URL.Port(); port != "" {
		return port
	}
	if m.Request.URL.Scheme == "https" || m.Request.Method == http.MethodConnect {
		return "443"
	}
	return "80"
}

func (m *Metadata) DestAddr() string {
	if m.destAddr != "" {
		return m.destAddr
	}
	if m.ConnLink != nil && m.ConnLink.RAddr != "" {
		m.destAddr = m.ConnLink.RAddr
		return m.destAddr
	}
	if m.Request != nil {
		host := m.Request.Host
		if host == "" && m.Request.URL != nil {
			host = m.Request.URL.Host
		}
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, m.DestPort())
		}
		m.destAddr = host
	}
	return m.destAddr
}

func (m *Metadata) Host() string {
	if m.Request == nil {
		return ""
	}
	host := m.Request.Host
	if host == "" && m.Request.URL != nil {
		host = m.Request.URL.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func (m *Metadata) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("src_addr", m.SrcAddr()),
		slog.String("dest_addr", m.DestAddr()),
		slog.String("host", m.Host()),
	}
	if m.Request != nil {
		attrs = append(attrs, slog.String("method", m.Request.Method))
	}
	if m.Response != nil {
		attrs = append(attrs, slog.Int("status", m.Response.StatusCode))
	}
	return slog.GroupValue(attrs...)
}
