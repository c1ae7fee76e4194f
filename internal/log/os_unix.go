//go:build unix

package log

import (
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// OSInfo describes the host for the startup banner.
func OSInfo() slog.Value {
	attrs := baseOSAttrs()

	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return slog.GroupValue(attrs...)
	}
	attrs = append(attrs,
		slog.String("sysname", unix.ByteSliceToString(uname.Sysname[:])),
		slog.String("release", unix.ByteSliceToString(uname.Release[:])),
		slog.String("machine", unix.ByteSliceToString(uname.Machine[:])),
	)
	return slog.GroupValue(attrs...)
}

func baseOSAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("goos", runtime.GOOS),
		slog.String("goarch", runtime.GOARCH),
		slog.String("go", runtime.Version()),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, slog.String("hostname", hostname))
	}
	return attrs
}
