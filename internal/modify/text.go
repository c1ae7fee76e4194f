package modify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/sunbk201/httpmod/internal/config"
	"github.com/sunbk201/httpmod/internal/regex"
)

type TextType string

const (
	TextSet     TextType = "set"
	TextReplace TextType = "plain"
	TextRegex   TextType = "regex"
)

// TextModify is a text transform old -> new. The zero value is not valid;
// build one with Set, Replace, RegexReplace or NewTextModify.
type TextModify struct {
	kind TextType

	origin    string
	hasOrigin bool
	re        *regexp2.Regexp
	new       string
}

// Set yields value regardless of its input.
func Set(value string) TextModify {
	return TextModify{kind: TextSet, new: value}
}

// Replace substitutes every literal occurrence of origin with value.
func Replace(origin, value string) TextModify {
	return TextModify{kind: TextReplace, origin: origin, hasOrigin: true, new: value}
}

// ReplaceAll is a plain replace without origin, which behaves like Set.
func ReplaceAll(value string) TextModify {
	return TextModify{kind: TextReplace, new: value}
}

// RegexReplace substitutes every match of re with value; value may refer to
// capture groups as $1 or ${name}. A nil re leaves the input unchanged.
func RegexReplace(re *regexp2.Regexp, value string) TextModify {
	return TextModify{kind: TextRegex, re: re, new: value}
}

// NewTextModify builds a transform from its configuration form, resolving
// regex patterns through cache. An invalid pattern is reported here and
// never at traffic time.
func NewTextModify(cfg *config.TextModify, cache *regex.Cache) (TextModify, error) {
	switch TextType(cfg.Type) {
	case TextSet:
		return Set(cfg.New), nil
	case TextReplace:
		if cfg.Origin == nil {
			return ReplaceAll(cfg.New), nil
		}
		return Replace(*cfg.Origin, cfg.New), nil
	case TextRegex:
		if cache == nil {
			return TextModify{}, fmt.Errorf("regex %q: no pattern cache", cfg.Re)
		}
		re, err := cache.Get(cfg.Re)
		if err != nil {
			return TextModify{}, err
		}
		return RegexReplace(re, cfg.New), nil
	default:
		return TextModify{}, fmt.Errorf("unknown text modify type %q", cfg.Type)
	}
}

func (t TextModify) Type() TextType {
	return t.kind
}

// Exec returns the transformed text. It never fails: a regex that errors
// while matching leaves the input unchanged.
func (t TextModify) Exec(origin string) string {
	switch t.kind {
	case TextSet:
		return t.new
	case TextReplace:
		if !t.hasOrigin {
			return t.new
		}
		return strings.ReplaceAll(origin, t.origin, t.new)
	case TextRegex:
		if t.re == nil {
			return origin
		}
		out, err := t.re.Replace(origin, t.new, -1, -1)
		if err != nil {
			slog.Warn("regexp2.Replace", slog.String("regex", t.re.String()), slog.Any("error", err))
			return origin
		}
		return out
	default:
		return origin
	}
}

func (t TextModify) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", string(t.kind))}
	switch t.kind {
	case TextReplace:
		if t.hasOrigin {
			attrs = append(attrs, slog.String("origin", t.origin))
		}
	case TextRegex:
		if t.re != nil {
			attrs = append(attrs, slog.String("regex", t.re.String()))
		}
	}
	attrs = append(attrs, slog.String("new", t.new))
	return slog.GroupValue(attrs...)
}
