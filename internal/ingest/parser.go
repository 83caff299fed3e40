package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"crashguard/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reLogcatTS  = regexp.MustCompile(`^\s*([0-9]{2}-[0-9]{2}\s+\d{2}:\d{2}:\d{2}(?:\.\d{3})?)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
)

type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine accepts JSON, CSV, or plain crash-log lines. A nil result with a
// nil error means the line carried nothing usable (blank, CSV header).
func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := parseJSON(trim); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, ": ") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseJSON(line string) (*normalize.EventFields, error) {
	return ParseJSONBytes([]byte(line))
}

// parsePlain handles free-form lines such as logcat crash output: an optional
// leading timestamp, optional key=value pairs, and whatever remains becomes
// the description.
func parsePlain(line string) (*normalize.EventFields, error) {
	fields := &normalize.EventFields{}
	ts, rest := extractTimestamp(line)
	fields.Timestamp = ts

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(rest, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields.CrashType = firstNonEmpty(kv, "crash_type", "type", "kind")
	fields.AppID = firstNonEmpty(kv, "app_id", "app", "package", "process")
	fields.DeviceID = firstNonEmpty(kv, "device_id", "device", "serial")
	fields.Description = firstNonEmpty(kv, "description", "message", "msg", "reason")

	if fields.Description == "" {
		desc := reKV.ReplaceAllString(rest, "")
		fields.Description = strings.TrimSpace(desc)
	}
	return fields, nil
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	m = reLogcatTS.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.EventFields{}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	// Positional fallback: timestamp, device, app, type, description.
	if len(record) >= 1 {
		fields.Timestamp = record[0]
	}
	if len(record) >= 2 {
		fields.DeviceID = record[1]
	}
	if len(record) >= 3 {
		fields.AppID = record[2]
	}
	if len(record) >= 4 {
		fields.CrashType = record[3]
	}
	if len(record) >= 5 {
		fields.Description = record[4]
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "timestamp", "time", "ts", "device", "device_id", "app", "app_id", "crash_type", "type", "description", "message":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.EventFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "device", "device_id", "serial":
		fields.DeviceID = value
	case "app", "app_id", "package", "process":
		fields.AppID = value
	case "crash_type", "type", "kind":
		fields.CrashType = value
	case "description", "message", "msg", "reason":
		fields.Description = value
	case "related", "related_texts":
		if value != "" {
			fields.Related = append(fields.Related, value)
		}
	}
}
