package common

import (
	"io"
	"log/slog"
	"net"
)

// ConnLink is a raw bidirectional tunnel between a client (L) and an
// upstream (R) connection.
type ConnLink struct {
	LConn net.Conn
	RConn net.Conn
	LAddr string
	RAddr string
}

// CopyLR copies client bytes upstream and half-closes both sides when the
// client stops sending.
func (c *ConnLink) CopyLR() {
	defer c.closeHalf(c.LConn, c.RConn)
	n, _ := io.Copy(c.RConn, c.LConn)
	slog.Debug("CopyLR done", slog.Any("ConnLink", c), slog.Int64("bytes", n))
}

func (c *ConnLink) CopyRL() {
	defer c.closeHalf(c.RConn, c.LConn)
	n, _ := io.Copy(c.LConn, c.RConn)
	slog.Debug("CopyRL done", slog.Any("ConnLink", c), slog.Int64("bytes", n))
}

func (c *ConnLink) closeHalf(src, dst net.Conn) {
	if tc, ok := src.(*net.TCPConn); ok {
		_ = tc.CloseRead()
	} else {
		_ = src.Close()
	}
	if tc, ok := dst.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	} else {
		_ = dst.Close()
	}
}

func (c *ConnLink) Close() error {
	if c.LConn != nil {
		_ = c.LConn.Close()
	}
	if c.RConn != nil {
		_ = c.RConn.Close()
	}
	return nil
}

func (c *ConnLink) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("LAddr", c.LAddr),
		slog.String("RAddr", c.RAddr),
	)
}
