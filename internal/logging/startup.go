package logging

import (
	"maps"
	"runtime"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects the painter's build identity, the models and AWS
// resources in use, and feature flags, then emits one structured event so a
// run's configuration can be read from its first log line.
type StartupLogger struct {
	command   string
	version   string
	commit    string
	buildTime string

	models    map[string]string
	resources map[string]string
	features  map[string]bool
	config    map[string]string
	initTime  time.Duration
}

// NewStartupLogger creates a StartupLogger for a painter subcommand.
func NewStartupLogger(command string) *StartupLogger {
	return &StartupLogger{
		command:   command,
		models:    make(map[string]string),
		resources: make(map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

// Build records the version identity baked into the binary.
func (s *StartupLogger) Build(version, commit, buildTime string) *StartupLogger {
	s.version, s.commit, s.buildTime = version, commit, buildTime
	return s
}

// Model registers a model used for a role such as "image" or "critique".
func (s *StartupLogger) Model(role, name string) *StartupLogger {
	s.models[role] = name
	return s
}

// Resource registers an external resource. Empty names are skipped.
// Only identifiers are logged, never secret values.
func (s *StartupLogger) Resource(label, name string) *StartupLogger {
	if name != "" {
		s.resources[label] = name
	}
	return s
}

// Feature registers a boolean feature flag.
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long startup took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initTime = d
	return s
}

// Log emits a single structured INFO event with everything collected.
func (s *StartupLogger) Log() {
	s.event(log.Info()).Msg("Painter starting")
}

func (s *StartupLogger) event(evt *zerolog.Event) *zerolog.Event {
	build := zerolog.Dict().
		Str("command", s.command).
		Str("goVersion", runtime.Version()).
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("logLevel", zerolog.GlobalLevel().String())
	if s.version != "" {
		build = build.Str("version", s.version)
	}
	if s.commit != "" {
		build = build.Str("commit", s.commit)
	}
	if s.buildTime != "" {
		build = build.Str("buildTime", s.buildTime)
	}
	evt = evt.Dict("build", build)

	if len(s.models) > 0 {
		evt = evt.Dict("models", dictFromMap(s.models))
	}
	if len(s.resources) > 0 {
		evt = evt.Dict("resources", dictFromMap(s.resources))
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for _, k := range slices.Sorted(maps.Keys(s.features)) {
			d = d.Bool(k, s.features[k])
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}
	if s.initTime > 0 {
		evt = evt.Dur("initDuration", s.initTime)
	}
	return evt
}

// dictFromMap converts a map[string]string into a zerolog dict with sorted keys.
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for _, k := range slices.Sorted(maps.Keys(m)) {
		d = d.Str(k, m[k])
	}
	return d
}
