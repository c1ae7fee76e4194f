package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunbk201/httpmod/internal/api"
	"github.com/sunbk201/httpmod/internal/config"
	"github.com/sunbk201/httpmod/internal/log"
	"github.com/sunbk201/httpmod/internal/metrics"
	"github.com/sunbk201/httpmod/internal/regex"
	"github.com/sunbk201/httpmod/internal/rule"
	httpserver "github.com/sunbk201/httpmod/internal/server/http"
	"github.com/sunbk201/httpmod/internal/statistics"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "httpmod",
	Short: "httpmod is a rewriting HTTP proxy",
	Long:  "httpmod is a forward HTTP proxy that edits headers, cookies and text bodies of requests and responses according to declarative rules.",
	RunE:  runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Short flags
	rootCmd.Flags().StringP("config", "c", "", "Config file path")
	rootCmd.Flags().StringP("bind", "b", "", "Bind address")
	rootCmd.Flags().IntP("port", "p", 0, "Port")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")

	// Long flags
	rootCmd.Flags().String("log-file", "", "Log file path")
	rootCmd.Flags().String("rules", "", "Modify rules as a JSON array")
	rootCmd.Flags().Int("regex-cache-size", 0, "Compiled regex cache capacity")
	rootCmd.Flags().Duration("regex-timeout", 0, "Per-match regex timeout")
	rootCmd.Flags().Duration("upstream-timeout", 0, "Upstream dial and response header timeout")
	rootCmd.Flags().String("api-server", "", "Admin API listen address")
	rootCmd.Flags().String("api-server-secret", "", "Admin API bearer secret")
	rootCmd.Flags().Bool("stats", false, "Record rewrite statistics")

	_ = viper.BindPFlag("config", rootCmd.Flags().Lookup("config"))
	_ = viper.BindPFlag("bind-address", rootCmd.Flags().Lookup("bind"))
	_ = viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log-file", rootCmd.Flags().Lookup("log-file"))
	_ = viper.BindPFlag("rules-json", rootCmd.Flags().Lookup("rules"))
	_ = viper.BindPFlag("regex-cache-size", rootCmd.Flags().Lookup("regex-cache-size"))
	_ = viper.BindPFlag("regex-timeout", rootCmd.Flags().Lookup("regex-timeout"))
	_ = viper.BindPFlag("upstream-timeout", rootCmd.Flags().Lookup("upstream-timeout"))
	_ = viper.BindPFlag("api-server", rootCmd.Flags().Lookup("api-server"))
	_ = viper.BindPFlag("api-server-secret", rootCmd.Flags().Lookup("api-server-secret"))
	_ = viper.BindPFlag("stats", rootCmd.Flags().Lookup("stats"))

	viper.SetEnvPrefix("HTTPMOD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("rules-json", "HTTPMOD_RULES")
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}

	viper.SetDefault("bind-address", "127.0.0.1")
	viper.SetDefault("port", 8080)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("regex-cache-size", regex.DefaultSize)
	viper.SetDefault("regex-timeout", regex.DefaultTimeout.String())
	viper.SetDefault("upstream-timeout", "30s")
}

func runRoot(cmd *cobra.Command, args []string) error {
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("httpmod version %s\n", AppVersion)
		return nil
	}

	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		if _, err := config.GenerateTemplateConfig(true); err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Println("Template config file 'config.yaml' generated successfully.")
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	broadcaster := log.NewBroadcaster()
	rotator := log.SetLogConf(cfg.LogLevel, cfg.LogFile, broadcaster)
	addShutdown("log.Close", rotator.Close)
	log.LogHeader(AppVersion, cfg)
	metrics.Get().Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var recorder *statistics.Recorder
	if cfg.Stats {
		recorder = statistics.NewRecorder(log.GetLogDir())
		recorder.Start(ctx)
		addShutdown("recorder.Stop", func() error {
			cancel()
			recorder.Wait()
			return nil
		})
	}

	cache, err := regex.NewCache(cfg.RegexCacheSize, cfg.RegexTimeout)
	if err != nil {
		slog.Error("regex.NewCache", slog.Any("error", err))
		shutdown()
		return err
	}
	engine := rule.NewEngine(cfg.Rules, cache, recorder)

	srv := httpserver.New(cfg, engine, recorder)
	if err := srv.Start(); err != nil {
		slog.Error("srv.Start", slog.Any("error", err))
		shutdown()
		return err
	}
	addShutdown("srv.Close", srv.Close)

	if cfg.APIServer != "" {
		apiServer := api.New(cfg.APIServer, AppVersion, cfg, engine, recorder, broadcaster)
		if err := apiServer.Start(); err != nil {
			slog.Error("apiServer.Start", slog.Any("error", err))
			shutdown()
			return err
		}
		addShutdown("apiServer.Close", apiServer.Close)
	}

	cleanup := make(chan os.Signal, 1)
	signal.Notify(cleanup, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		s := <-cleanup
		slog.Info("Received signal", slog.String("signal", s.String()))
		switch s {
		case syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM:
			shutdown()
			return nil
		case syscall.SIGHUP:
		default:
			return nil
		}
	}
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

// shutdown runs the registered closers in reverse order.
func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	slog.Info("httpmod exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
