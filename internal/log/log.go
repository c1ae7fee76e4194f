package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sunbk201/httpmod/internal/config"
)

// ParseLevel maps a configured level name to slog; unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogConf installs the default logger. Records go to stdout, to a rotated
// file (logFile, or the platform default when empty) and, when b is not nil,
// to every live log subscriber.
func SetLogConf(level, logFile string, b *Broadcaster) *lumberjack.Logger {
	if logFile == "" {
		logFile = GetLogFilePath()
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    5, // megabytes
		MaxBackups: 5,
		MaxAge:     7, // days
		LocalTime:  true,
		Compress:   true,
	}

	writers := []io.Writer{os.Stdout, rotator}
	if b != nil {
		writers = append(writers, b)
	}

	loc := LoadLocalLocation()
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().In(loc)
				return slog.String(slog.TimeKey, t.Format("2006-01-02 15:04:05"))
			}
			return a
		},
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(writers...), opts)))
	return rotator
}

func LogHeader(version string, cfg *config.Config) {
	slog.Info("httpmod started", slog.String("version", version), slog.Any("config", cfg), slog.Any("os", OSInfo()))
	for i := range cfg.Rules {
		slog.Debug("Configured rule", slog.Int("index", i), slog.Any("rule", &cfg.Rules[i]))
	}
}

func LogInfoWithAddr(src string, dest string, msg string) {
	slog.Info(msg, slog.String("src", src), slog.String("dest", dest))
}

func LogWarnWithAddr(src string, dest string, msg string) {
	slog.Warn(msg, slog.String("src", src), slog.String("dest", dest))
}

// LoadLocalLocation tries /etc/localtime and then /etc/TZ, which covers
// OpenWrt as well as ordinary Linux.
func LoadLocalLocation() *time.Location {
	if _, err := os.Stat("/etc/localtime"); err == nil {
		if loc, _ := time.LoadLocation("Local"); loc != nil {
			return loc
		}
	}
	if data, err := os.ReadFile("/etc/TZ"); err == nil {
		tz := strings.TrimSpace(string(data))
		switch {
		case strings.HasPrefix(tz, "CST-8"):
			return time.FixedZone("CST", 8*3600)
		case strings.HasPrefix(tz, "UTC"):
			return time.UTC
		}
	}
	return time.UTC
}
