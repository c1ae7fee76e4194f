package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	origin := "Mozilla"
	cfg := Config{
		BindAddress: "127.0.0.1",
		Port:        8080,

		LogLevel: "info",

		RegexCacheSize:  512,
		RegexTimeout:    2 * time.Second,
		UpstreamTimeout: 30 * time.Second,

		Rules: []Rule{
			{
				Name:      "rewrite-user-agent",
				Direction: DirectionRequest,
				Header: []MapModify{
					{Key: "User-Agent", Value: &TextModify{Type: "plain", Origin: &origin, New: "FFF"}},
					{Key: "X-Forwarded-For", Remove: true},
				},
			},
			{
				Name:      "tag-session",
				Direction: DirectionResponse,
				Cookies: []MapModify{
					{Key: "session", Value: &TextModify{Type: "regex", Re: `^(.*)$`, New: "$1-seen"}},
				},
			},
			{
				Name:      "rebrand-body",
				Direction: DirectionResponse,
				Body:      &TextModify{Type: "set", New: "rewritten by httpmod"},
			},
		},
	}

	if writeToFile {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile("config.yaml", data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}
