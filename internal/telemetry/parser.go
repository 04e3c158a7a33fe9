package telemetry

import (
	"cmp"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ParseStats counts what happened to the blocks of one input text.
type ParseStats struct {
	Blocks        int // non-empty blocks found between separators
	Records       int // blocks that yielded a record
	SkippedBlocks int // blocks dropped as malformed or incomplete
}

const numberPattern = `([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`

// documentSeparator matches a `---` style separator line.
var documentSeparator = regexp.MustCompile(`(?m)^[ \t]*-{3,}[ \t]*$`)

// Scalar field matchers. Each key is anchored to the start of a line so that
// `sec` never matches inside `nanosec` and `voltage` never matches inside
// `cell_voltages`.
var (
	voltageField      = floatField("voltage")
	currentField      = floatField("current")
	socField          = floatField("soc")
	powerField        = floatField("power")
	remainingAhField  = floatField("remaining_ah")
	secField          = intField("sec")
	nanosecField      = intField("nanosec")
	chargeFETField    = intField("charge_fet")
	dischargeFETField = intField("discharge_fet")
)

var (
	cellVoltagesList     = listField("cell_voltages")
	cellTemperaturesList = listField("cell_temperatures")
	keyLine              = regexp.MustCompile(`^([ \t]*)[A-Za-z_][A-Za-z0-9_]*[ \t]*:`)
	listItemLine         = regexp.MustCompile(`^[ \t]*-[ \t]*(.*)$`)
)

func floatField(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*` + key + `[ \t]*:[ \t]*` + numberPattern)
}

func intField(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*` + key + `[ \t]*:[ \t]*(\d+)\b`)
}

func listField(key string) *regexp.Regexp {
	return regexp.MustCompile(`^([ \t]*)` + key + `[ \t]*:[ \t]*(.*)$`)
}

// Parse extracts measurement records from raw log text.
//
// The text is split on `---` separator lines; each block is scanned with one
// independent matcher per field, so a malformed field never blocks the
// others. Blocks without `sec` or without any measurement are skipped. The
// result is sorted by timestamp and carries relative times measured from the
// earliest record. A non-nil error is returned only for input that is not
// text.
func Parse(text string) ([]MeasurementRecord, error) {
	records, _, err := ParseWithStats(text)
	return records, err
}

// ParseWithStats is Parse plus block counters.
func ParseWithStats(text string) ([]MeasurementRecord, ParseStats, error) {
	var stats ParseStats

	if err := checkText(text); err != nil {
		return nil, stats, err
	}

	text = strings.ToValidUTF8(text, "\uFFFD")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	records := make([]MeasurementRecord, 0)

	for _, block := range documentSeparator.Split(text, -1) {
		if strings.TrimSpace(block) == "" {
			continue
		}
		stats.Blocks++

		rec, ok := parseBlock(block)
		if !ok {
			stats.SkippedBlocks++
			continue
		}
		records = append(records, rec)
	}

	stats.Records = len(records)
	sortAndAnchor(records)
	return records, stats, nil
}

// checkText rejects binary input. Stray invalid UTF-8 bytes are not
// structural; ParseWithStats repairs them before matching.
func checkText(text string) error {
	if i := strings.IndexByte(text, 0); i >= 0 {
		return &ParseError{Reason: "input contains NUL bytes, not a text log", Offset: i}
	}
	return nil
}

// parseBlock extracts one record from a block. ok is false when the block
// lacks `sec` or carries no measurement at all.
func parseBlock(block string) (MeasurementRecord, bool) {
	var rec MeasurementRecord

	sec, ok := matchInt(secField, block)
	if !ok {
		return rec, false
	}

	rec.Voltage = matchFloat(voltageField, block)
	rec.Current = matchFloat(currentField, block)
	rec.SOC = matchFloat(socField, block)
	rec.Power = matchFloat(powerField, block)
	rec.RemainingAh = matchFloat(remainingAhField, block)

	cells := parseList(block, cellVoltagesList)
	temps := parseList(block, cellTemperaturesList)

	if rec.Voltage == nil && rec.Current == nil && rec.SOC == nil && rec.Power == nil && len(cells) == 0 {
		return rec, false
	}

	nanosec, ok := matchInt(nanosecField, block)
	if !ok || nanosec > maxNanoseconds {
		nanosec = 0
	}

	rec.SecondsEpoch = sec
	rec.Nanoseconds = nanosec
	rec.Timestamp = timestampOf(sec, nanosec)

	if fet, ok := matchInt(chargeFETField, block); ok && fet > 0 {
		rec.ChargeFET = 1
	}
	if fet, ok := matchInt(dischargeFETField, block); ok && fet > 0 {
		rec.DischargeFET = 1
	}

	if rec.Power == nil {
		rec.Power = derivePower(rec.Voltage, rec.Current)
	}

	rec.CellVoltages = filterCells(cells, MaxCellVoltages, MinCellVoltage, MaxCellVoltage)
	rec.CellTemperatures = filterCells(temps, MaxCellTemperatures, MinCellTemp, MaxCellTemp)

	return rec, true
}

// matchFloat returns the first finite value for the field, or nil.
func matchFloat(re *regexp.Regexp, block string) *float64 {
	m := re.FindStringSubmatch(block)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return Float(v)
}

func matchInt(re *regexp.Regexp, block string) (int64, bool) {
	m := re.FindStringSubmatch(block)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseList collects the items of a nested list field. Items run from the
// key line to the next key at the same or shallower indentation. Both block
// style (`- 3.31` lines) and inline style (`[3.31, 3.30]`) are accepted.
// Items that are not numbers keep their slot as nil.
func parseList(block string, header *regexp.Regexp) []*float64 {
	lines := strings.Split(block, "\n")

	for i, line := range lines {
		m := header.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent := len(m[1])

		if inline := strings.TrimSpace(m[2]); strings.HasPrefix(inline, "[") {
			return parseInlineList(inline)
		}

		var items []*float64
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				continue
			}
			if item := listItemLine.FindStringSubmatch(next); item != nil {
				items = append(items, parseItem(item[1]))
				continue
			}
			if k := keyLine.FindStringSubmatch(next); k != nil && len(k[1]) <= indent {
				break
			}
		}
		return items
	}
	return nil
}

func parseInlineList(s string) []*float64 {
	s = strings.TrimPrefix(s, "[")
	if end := strings.Index(s, "]"); end >= 0 {
		s = s[:end]
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]*float64, 0, len(parts))
	for _, p := range parts {
		items = append(items, parseItem(p))
	}
	return items
}

func parseItem(s string) *float64 {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t#"); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return Float(v)
}

// derivePower returns voltage*current when both are finite, otherwise nil.
// Parse and Validate share it so both stages agree on the formula.
func derivePower(voltage, current *float64) *float64 {
	v, okV := Value(voltage)
	i, okI := Value(current)
	if !okV || !okI {
		return nil
	}
	return Float(v * i)
}

// sortAndAnchor orders the series by compareRecords and assigns relative
// times from the first record.
func sortAndAnchor(records []MeasurementRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return compareRecords(&records[i], &records[j]) < 0
	})
	if len(records) == 0 {
		return
	}
	origin := records[0].Timestamp
	for i := range records {
		records[i].RelativeTime = records[i].Timestamp - origin
	}
}

// compareRecords orders by timestamp, then by the readings themselves, so
// records sharing a timestamp sort the same way whatever the input order.
func compareRecords(a, b *MeasurementRecord) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	for _, pair := range [][2]*float64{
		{a.Voltage, b.Voltage},
		{a.Current, b.Current},
		{a.SOC, b.SOC},
		{a.Power, b.Power},
		{a.RemainingAh, b.RemainingAh},
	} {
		if c := compareReading(pair[0], pair[1]); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.ChargeFET, b.ChargeFET); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DischargeFET, b.DischargeFET); c != 0 {
		return c
	}
	if c := compareReadings(a.CellVoltages, b.CellVoltages); c != 0 {
		return c
	}
	return compareReadings(a.CellTemperatures, b.CellTemperatures)
}

// compareReading orders a missing reading before a present one.
func compareReading(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

func compareReadings(a, b []*float64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareReading(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}
