package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SanitizerCore masks sensitive fields and truncates identifying ones
// before they reach the wrapped core. Keys match case-insensitively.
type SanitizerCore struct {
	zapcore.Core
	sensitive map[string]struct{}
	truncated map[string]int
	mask      string
}

func NewSanitizerCore(core zapcore.Core, sensitiveFields []string, truncatedFields map[string]int, mask string) *SanitizerCore {
	s := &SanitizerCore{
		Core:      core,
		sensitive: make(map[string]struct{}, len(sensitiveFields)),
		truncated: make(map[string]int, len(truncatedFields)),
		mask:      mask,
	}
	for _, f := range sensitiveFields {
		s.sensitive[strings.ToLower(f)] = struct{}{}
	}
	for f, n := range truncatedFields {
		s.truncated[strings.ToLower(f)] = n
	}
	return s
}

// With sanitizes context fields once, when they are attached.
func (s *SanitizerCore) With(fields []zapcore.Field) zapcore.Core {
	return &SanitizerCore{
		Core:      s.Core.With(s.sanitize(fields)),
		sensitive: s.sensitive,
		truncated: s.truncated,
		mask:      s.mask,
	}
}

func (s *SanitizerCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

func (s *SanitizerCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return s.Core.Write(entry, s.sanitize(fields))
}

func (s *SanitizerCore) sanitize(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, field := range fields {
		key := strings.ToLower(field.Key)
		replacement, changed := field, false

		if _, ok := s.sensitive[key]; ok {
			replacement, changed = zap.String(field.Key, s.mask), true
		} else if n, ok := s.truncated[key]; ok && field.Type == zapcore.StringType && len(field.String) > n {
			replacement, changed = zap.String(field.Key, field.String[:n]+"..."), true
		}

		if changed {
			if out == nil {
				out = make([]zapcore.Field, len(fields))
				copy(out, fields)
			}
			out[i] = replacement
		}
	}
	if out == nil {
		return fields
	}
	return out
}
