package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorGreen       = 32
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorLightGreen  = 92
	colorLightYellow = 93
	colorCyan        = 96
)

// NbFormatter renders entries as colored key=value lines. The object and
// method fields come first, the rest are sorted by key.
type NbFormatter struct {
	NoColor      bool
	CallerSkip   int
	HideSource   bool
	TimeLayout   string
	leadingOrder []string
}

func NewNbFormatter(noColor bool) *NbFormatter {
	return &NbFormatter{
		NoColor:      noColor,
		CallerSkip:   6,
		TimeLayout:   "2006-01-02 15:04:05.000",
		leadingOrder: []string{"object", "method", "chat_id", "user_id"},
	}
}

func (f *NbFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b strings.Builder

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	b.WriteString(f.key("level"))
	b.WriteByte('=')
	b.WriteString(f.paint(levelColor(entry.Level), level))

	layout := f.TimeLayout
	if layout == "" {
		layout = "2006-01-02 15:04:05.000"
	}
	f.field(&b, "ts", f.paint(colorLightYellow, entry.Time.Format(layout)))

	if !f.HideSource {
		if _, file, line, ok := runtime.Caller(f.CallerSkip); ok {
			source := fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
			f.field(&b, "source", f.paint(colorLightYellow, source))
		}
	}

	for _, k := range f.orderedKeys(entry.Data) {
		s := renderValue(entry.Data[k])
		if s == "" {
			continue
		}
		f.field(&b, k, f.paint(valueColor(s), s))
	}
	f.field(&b, "msg", f.paint(colorLightGreen, strconv.Quote(entry.Message)))

	output := strings.NewReplacer("\r", "\\r", "\n", "\\n").Replace(b.String())
	return []byte(output + "\n"), nil
}

func (f *NbFormatter) orderedKeys(data log.Fields) []string {
	keys := make([]string, 0, len(data))
	seen := make(map[string]struct{}, len(f.leadingOrder))
	for _, k := range f.leadingOrder {
		if _, ok := data[k]; ok {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	rest := make([]string, 0, len(data))
	for k := range data {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func (f *NbFormatter) field(b *strings.Builder, k, v string) {
	b.WriteByte(' ')
	b.WriteString(f.key(k))
	b.WriteByte('=')
	b.WriteString(v)
}

func (f *NbFormatter) key(k string) string {
	return f.paint(colorCyan, k)
}

func (f *NbFormatter) paint(color int, s string) string {
	if f.NoColor {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func renderValue(val any) string {
	if err, ok := val.(error); ok {
		return strconv.Quote(err.Error())
	}
	m, err := json.Marshal(val)
	if err != nil {
		return ""
	}
	return string(m)
}

func levelColor(level log.Level) int {
	switch level {
	case log.DebugLevel, log.TraceLevel:
		return colorGray
	case log.WarnLevel:
		return colorYellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return colorRed
	default:
		return colorBlue
	}
}

func valueColor(s string) int {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return colorGreen
	}
	if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
		return colorLightYellow
	}
	return colorCyan
}
