//go:build !unix

package log

import (
	"log/slog"
	"os"
	"runtime"
)

func OSInfo() slog.Value {
	attrs := []slog.Attr{
		slog.String("goos", runtime.GOOS),
		slog.String("goarch", runtime.GOARCH),
		slog.String("go", runtime.Version()),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, slog.String("hostname", hostname))
	}
	if v, ok := os.LookupEnv("OS"); ok {
		attrs = append(attrs, slog.String("os_version", v))
	}
	return slog.GroupValue(attrs...)
}
