package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment names accepted by WithEnvironment.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Format is the record encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type profile struct {
	level  slog.Level
	format Format
}

var profiles = map[string]profile{
	EnvDevelopment: {level: slog.LevelDebug, format: FormatText},
	EnvStaging:     {level: slog.LevelInfo, format: FormatJSON},
	EnvProduction:  {level: slog.LevelInfo, format: FormatJSON},
}

var envAliases = map[string]string{
	"dev":   EnvDevelopment,
	"local": EnvDevelopment,
	"stage": EnvStaging,
	"prod":  EnvProduction,
}

// Option configures New.
type Option func(*options)

type options struct {
	level      *slog.Level
	format     Format
	output     io.Writer
	env        string
	attrs      []slog.Attr
	extractors []ContextExtractor
}

// WithLevel sets the minimum level. It wins over the environment profile.
func WithLevel(l slog.Level) Option {
	return func(o *options) { o.level = &l }
}

// WithFormat sets the encoding. It panics on an unknown format.
func WithFormat(f Format) Option {
	switch f {
	case FormatJSON, FormatText:
	default:
		panic(fmt.Errorf("logger: invalid format %q: must be %q or %q", f, FormatJSON, FormatText))
	}
	return func(o *options) { o.format = f }
}

// WithOutput sets the destination. Nil is ignored.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(o *options) { o.attrs = append(o.attrs, attrs...) }
}

// WithContextExtractors registers extractors evaluated on every record.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(o *options) {
		for _, ex := range extractors {
			if ex != nil {
				o.extractors = append(o.extractors, ex)
			}
		}
	}
}

// WithEnvironment applies the level and format profile of env and tags records
// with env and service. Unknown environments use the development profile.
func WithEnvironment(env, service string) Option {
	return func(o *options) {
		o.env = NormalizeEnvironment(env)
		o.attrs = append(o.attrs, slog.String("env", o.env))
		if service != "" {
			o.attrs = append(o.attrs, slog.String("service", service))
		}
	}
}

// NormalizeEnvironment maps env and its short aliases onto one of the Env constants.
func NormalizeEnvironment(env string) string {
	env = strings.ToLower(strings.TrimSpace(env))
	if alias, ok := envAliases[env]; ok {
		return alias
	}
	if _, ok := profiles[env]; ok {
		return env
	}
	return EnvDevelopment
}

// New builds a logger. Without options it writes JSON at info level to stdout.
func New(opts ...Option) *slog.Logger {
	o := &options{output: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	p := profile{level: slog.LevelInfo, format: FormatJSON}
	if o.env != "" {
		p = profiles[o.env]
	}
	if o.level != nil {
		p.level = *o.level
	}
	if o.format != "" {
		p.format = o.format
	}

	handlerOpts := &slog.HandlerOptions{Level: p.level}
	var handler slog.Handler
	if p.format == FormatText {
		handler = slog.NewTextHandler(o.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(o.output, handlerOpts)
	}
	if len(o.attrs) > 0 {
		handler = handler.WithAttrs(o.attrs)
	}
	return slog.New(&contextHandler{next: handler, extractors: o.extractors})
}

// SetAsDefault installs l as the slog default logger.
func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}
