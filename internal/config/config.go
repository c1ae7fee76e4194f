package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Direction string

const (
	DirectionRequest  Direction = "REQUEST"
	DirectionResponse Direction = "RESPONSE"
	DirectionDual     Direction = "DUAL"
)

type Config struct {
	BindAddress string `mapstructure:"bind-address" yaml:"bind-address" json:"bind_address" validate:"required"`
	Port        int    `mapstructure:"port" yaml:"port" json:"port" validate:"min=1,max=65535"`
	ListenAddr  string `mapstructure:"-" yaml:"-" json:"listen_addr"`

	LogLevel string `mapstructure:"log-level" yaml:"log-level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `mapstructure:"log-file" yaml:"log-file,omitempty" json:"log_file,omitempty"`

	APIServer       string `mapstructure:"api-server" yaml:"api-server,omitempty" json:"api_server,omitempty"`
	APIServerSecret string `mapstructure:"api-server-secret" yaml:"api-server-secret,omitempty" json:"-"`

	RegexCacheSize  int           `mapstructure:"regex-cache-size" yaml:"regex-cache-size" json:"regex_cache_size" validate:"min=0"`
	RegexTimeout    time.Duration `mapstructure:"regex-timeout" yaml:"regex-timeout" json:"regex_timeout"`
	UpstreamTimeout time.Duration `mapstructure:"upstream-timeout" yaml:"upstream-timeout" json:"upstream_timeout"`

	Stats bool `mapstructure:"stats" yaml:"stats" json:"stats"`

	Rules     []Rule `mapstructure:"rules" yaml:"rules" json:"rules"`
	RulesJSON string `mapstructure:"rules-json" yaml:"-" json:"-"`
}

// Rule is the wire form of one modify rule. Exactly one of Header, Cookies
// (or its alias Cookie) and Body is expected; the rule engine rejects the
// rest when it builds the rule.
type Rule struct {
	Name      string    `mapstructure:"name" yaml:"name,omitempty" json:"name,omitempty"`
	Enabled   *bool     `mapstructure:"enabled" yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Direction Direction `mapstructure:"direction" yaml:"direction,omitempty" json:"direction,omitempty" validate:"omitempty,oneof=REQUEST RESPONSE DUAL"`

	Header  []MapModify `mapstructure:"header" yaml:"header,omitempty" json:"header,omitempty" validate:"omitempty,dive"`
	Cookies []MapModify `mapstructure:"cookies" yaml:"cookies,omitempty" json:"cookies,omitempty" validate:"omitempty,dive"`
	Cookie  []MapModify `mapstructure:"cookie" yaml:"cookie,omitempty" json:"cookie,omitempty" validate:"omitempty,dive"`
	Body    *TextModify `mapstructure:"body" yaml:"body,omitempty" json:"body,omitempty"`
}

type MapModify struct {
	Key    string      `mapstructure:"key" yaml:"key" json:"key" validate:"required"`
	Value  *TextModify `mapstructure:"value" yaml:"value,omitempty" json:"value,omitempty"`
	Remove bool        `mapstructure:"remove" yaml:"remove,omitempty" json:"remove,omitempty"`
}

type TextModify struct {
	Type   string  `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=set plain regex"`
	Origin *string `mapstructure:"origin" yaml:"origin,omitempty" json:"origin,omitempty" validate:"excluded_unless=Type plain"`
	Re     string  `mapstructure:"re" yaml:"re,omitempty" json:"re,omitempty" validate:"required_if=Type regex,excluded_unless=Type regex"`
	New    string  `mapstructure:"new" yaml:"new" json:"new"`
}

func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Normalize folds the singular cookie spelling into Cookies and fills the
// default direction.
func (r *Rule) Normalize() {
	if len(r.Cookie) > 0 {
		r.Cookies = append(r.Cookies, r.Cookie...)
		r.Cookie = nil
	}
	if r.Direction == "" {
		r.Direction = DirectionDual
	}
	r.Direction = Direction(strings.ToUpper(string(r.Direction)))
}

func (r *Rule) LogValue() slog.Value {
	kinds := make([]string, 0, 3)
	if r.Header != nil {
		kinds = append(kinds, "header")
	}
	if r.Cookies != nil || r.Cookie != nil {
		kinds = append(kinds, "cookies")
	}
	if r.Body != nil {
		kinds = append(kinds, "body")
	}
	return slog.GroupValue(
		slog.String("name", r.Name),
		slog.String("direction", string(r.Direction)),
		slog.String("kind", strings.Join(kinds, ",")),
	)
}

// ParseRulesJSON decodes a JSON array of rules, the encoding accepted on the
// command line and in HTTPMOD_RULES. Unknown keys are rejected.
func ParseRulesJSON(rulesJSON string) ([]Rule, error) {
	var raw []map[string]any
	if err := json.Unmarshal([]byte(rulesJSON), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rules JSON: %w", err)
	}

	var rules []Rule
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &rules,
		TagName:     "mapstructure",
		ErrorUnused: true,
	})
	if err != nil {
		return nil, fmt.Errorf("mapstructure.NewDecoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return rules, nil
}

// BuildConfigFromViper assembles the runtime configuration from flags,
// environment and the optional config file already merged into viper.
func BuildConfigFromViper() (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := viper.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("viper.Unmarshal: %w", err)
	}

	if cfg.RulesJSON != "" {
		rules, err := ParseRulesJSON(cfg.RulesJSON)
		if err != nil {
			return nil, err
		}
		cfg.Rules = append(cfg.Rules, rules...)
	}
	for i := range cfg.Rules {
		cfg.Rules[i].Normalize()
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.ListenAddr = net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port))

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("Log Level", c.LogLevel),
		slog.String("Listen Address", c.ListenAddr),
		slog.String("API Server", c.APIServer),
		slog.Int("Regex Cache Size", c.RegexCacheSize),
		slog.Duration("Regex Timeout", c.RegexTimeout),
		slog.Duration("Upstream Timeout", c.UpstreamTimeout),
		slog.Bool("Stats", c.Stats),
		slog.Int("Rules", len(c.Rules)),
	)
}
