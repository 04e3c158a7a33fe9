package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Status is Claude's overall verdict on a pack for one run.
type Status string

const (
	StatusExcellent    Status = "Excellent"
	StatusGood         Status = "Good"
	StatusSatisfactory Status = "Satisfactory"
	StatusBad          Status = "Bad"
	StatusAwful        Status = "Awful"
)

var statusTable = map[Status]struct {
	emoji string
	alert bool
}{
	StatusExcellent:    {emoji: "✅"},
	StatusGood:         {emoji: "🟢"},
	StatusSatisfactory: {emoji: "🟡", alert: true},
	StatusBad:          {emoji: "🟠", alert: true},
	StatusAwful:        {emoji: "🔴", alert: true},
}

// Valid reports whether s is one of the five known verdicts.
func (s Status) Valid() bool {
	_, ok := statusTable[s]
	return ok
}

// Emoji returns the marker used in notifications, ⚪ for unknown values.
func (s Status) Emoji() string {
	if info, ok := statusTable[s]; ok {
		return info.emoji
	}
	return "⚪"
}

// NeedsAttention reports whether the verdict routes to the alerts channel.
func (s Status) NeedsAttention() bool {
	return statusTable[s].alert
}

// Analysis is the structured insight Claude returns for one BMS run.
type Analysis struct {
	SystemStatus    Status      `json:"systemStatus"`
	Summary         string      `json:"summary"`
	CriticalIssues  []string    `json:"criticalIssues"`
	Warnings        []string    `json:"warnings"`
	Recommendations []string    `json:"recommendations"`
	Metrics         PackMetrics `json:"metrics"`
}

// PackMetrics holds the figures the system prompt asks Claude to extract.
// A nil field was not reported. Keys the prompt does not name land in Extra.
type PackMetrics struct {
	MinPackVoltage      *float64
	MaxPackVoltage      *float64
	MaxCellImbalanceV   *float64
	MaxCellTemperatureC *float64
	NetEnergyKWh        *float64
	Extra               map[string]any
}

// packMetricKeys binds each requested JSON key to its field and display form.
var packMetricKeys = []struct {
	key    string
	label  string
	format string
	field  func(*PackMetrics) **float64
}{
	{"minPackVoltage", "Min pack voltage", "%.2fV", func(m *PackMetrics) **float64 { return &m.MinPackVoltage }},
	{"maxPackVoltage", "Max pack voltage", "%.2fV", func(m *PackMetrics) **float64 { return &m.MaxPackVoltage }},
	{"maxCellImbalanceV", "Max cell imbalance", "%.3fV", func(m *PackMetrics) **float64 { return &m.MaxCellImbalanceV }},
	{"maxCellTemperatureC", "Max cell temperature", "%.1f°C", func(m *PackMetrics) **float64 { return &m.MaxCellTemperatureC }},
	{"netEnergyKWh", "Net energy", "%.3f kWh", func(m *PackMetrics) **float64 { return &m.NetEnergyKWh }},
}

// UnmarshalJSON decodes the metrics object. The named BMS keys must be JSON
// numbers or null; anything else is kept verbatim in Extra.
func (m *PackMetrics) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metrics must be an object: %w", err)
	}
	for _, k := range packMetricKeys {
		v, ok := raw[k.key]
		if !ok {
			continue
		}
		delete(raw, k.key)
		var f *float64
		if err := json.Unmarshal(v, &f); err != nil {
			return fmt.Errorf("metric %s must be a number, got %s", k.key, v)
		}
		*k.field(m) = f
	}
	for key, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("metric %s: %w", key, err)
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[key] = val
	}
	return nil
}

// MarshalJSON flattens the named metrics and Extra back into one object.
func (m PackMetrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+len(packMetricKeys))
	for key, v := range m.Extra {
		out[key] = v
	}
	for _, k := range packMetricKeys {
		if p := *k.field(&m); p != nil {
			out[k.key] = *p
		}
	}
	return json.Marshal(out)
}

// validate rejects figures no healthy decoder of a BMS digest would produce.
func (m *PackMetrics) validate() error {
	for _, k := range packMetricKeys {
		if p := *k.field(m); p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
			return fmt.Errorf("metric %s is not finite", k.key)
		}
	}
	for _, p := range []struct {
		key string
		v   *float64
	}{
		{"minPackVoltage", m.MinPackVoltage},
		{"maxPackVoltage", m.MaxPackVoltage},
		{"maxCellImbalanceV", m.MaxCellImbalanceV},
	} {
		if p.v != nil && *p.v < 0 {
			return fmt.Errorf("metric %s must not be negative, got %g", p.key, *p.v)
		}
	}
	if m.MinPackVoltage != nil && m.MaxPackVoltage != nil && *m.MinPackVoltage > *m.MaxPackVoltage {
		return fmt.Errorf("minPackVoltage %g exceeds maxPackVoltage %g", *m.MinPackVoltage, *m.MaxPackVoltage)
	}
	return nil
}

// MetricEntry is one display line of PackMetrics.
type MetricEntry struct {
	Label string
	Value string
}

// Entries lists the reported BMS metrics in prompt order, then Extra sorted
// by key.
func (m PackMetrics) Entries() []MetricEntry {
	var entries []MetricEntry
	for _, k := range packMetricKeys {
		if p := *k.field(&m); p != nil {
			entries = append(entries, MetricEntry{Label: k.label, Value: fmt.Sprintf(k.format, *p)})
		}
	}
	keys := make([]string, 0, len(m.Extra))
	for key := range m.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entries = append(entries, MetricEntry{Label: key, Value: fmt.Sprintf("%v", m.Extra[key])})
	}
	return entries
}

var (
	promptInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
		regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
		regexp.MustCompile(`(?i)new\s+instructions?:`),
		regexp.MustCompile(`(?i)system\s*prompt\s*:`),
		regexp.MustCompile(`(?i)\b(assistant|human|user|system)\s*:`),
	}
	excessiveNewlines = regexp.MustCompile(`\n{4,}`)
)

// SanitizeLogContent strips non-printable characters and common prompt
// injection phrases from text that goes into a prompt.
func SanitizeLogContent(content string) string {
	result := strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		return -1
	}, content)
	for _, pattern := range promptInjectionPatterns {
		result = pattern.ReplaceAllString(result, "[FILTERED]")
	}
	return excessiveNewlines.ReplaceAllString(result, "\n\n\n")
}

// maxJSONResponseSize caps the JSON object accepted from a response.
const maxJSONResponseSize = 1024 * 1024

var jsonEscape = regexp.MustCompile(`(?s)\\.`)

// sanitizeJSONEscapes drops the backslash from escapes JSON does not define
// (models write \. or \- in prose fields).
func sanitizeJSONEscapes(s string) string {
	return jsonEscape.ReplaceAllStringFunc(s, func(esc string) string {
		if strings.ContainsRune(`"\/bfnrtu`, rune(esc[1])) {
			return esc
		}
		return esc[1:]
	})
}

// ParseAnalysis finds the assessment object in a model response, decodes
// and validates it.
func ParseAnalysis(response string) (*Analysis, error) {
	raw := extractJSON(sanitizeJSONEscapes(response))
	if raw == nil {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	if len(raw) > maxJSONResponseSize {
		return nil, fmt.Errorf("JSON response too large: %d bytes (max: %d)", len(raw), maxJSONResponseSize)
	}

	var analysis Analysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if err := validateAnalysis(&analysis); err != nil {
		return nil, fmt.Errorf("analysis validation failed: %w", err)
	}
	return &analysis, nil
}

func validateAnalysis(analysis *Analysis) error {
	switch {
	case analysis.SystemStatus == "":
		return fmt.Errorf("systemStatus is required")
	case !analysis.SystemStatus.Valid():
		return fmt.Errorf("invalid systemStatus: %s", analysis.SystemStatus)
	case strings.TrimSpace(analysis.Summary) == "":
		return fmt.Errorf("summary is required")
	}
	if err := analysis.Metrics.validate(); err != nil {
		return err
	}

	for _, list := range []*[]string{&analysis.CriticalIssues, &analysis.Warnings, &analysis.Recommendations} {
		if *list == nil {
			*list = []string{}
		}
	}
	return nil
}

// extractJSON returns the first complete JSON object in response. Braces
// in surrounding prose that do not open a valid object are skipped.
func extractJSON(response string) json.RawMessage {
	for offset := 0; ; {
		i := strings.IndexByte(response[offset:], '{')
		if i < 0 {
			return nil
		}
		start := offset + i
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(response[start:])).Decode(&raw); err == nil {
			return raw
		}
		offset = start + 1
	}
}
