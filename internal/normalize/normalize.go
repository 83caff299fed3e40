package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crashguard/internal/config"
	"crashguard/internal/model"
)

// EventFields is the loosely-typed shape shared by every ingest adapter
// before normalization into a model.CrashEvent.
type EventFields struct {
	Timestamp   string
	CrashType   string
	AppID       string
	DeviceID    string
	Description string
	Related     []string
	Raw         string
}

// Normalize fills defaults and parses the timestamp. A timestamp that cannot
// be parsed does not reject the event: detection on partial data beats
// dropping a crash report. Such events carry TimeInferred and are stamped
// with the ingest time.
func Normalize(fields EventFields, cfg *config.Config) (model.CrashEvent, error) {
	desc := strings.TrimSpace(fields.Description)
	if desc == "" && len(fields.Related) == 0 {
		return model.CrashEvent{}, errors.New("empty crash description")
	}

	device := strings.TrimSpace(fields.DeviceID)
	if device == "" {
		device = cfg.Ingest.Parser.DefaultDeviceID
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := time.Now().UTC()
	inferred := true
	if fields.Timestamp != "" {
		if parsed, err := ParseTimestamp(fields.Timestamp, loc); err == nil {
			ts = parsed.UTC()
			inferred = false
		}
	}

	related := make([]string, 0, len(fields.Related))
	for _, r := range fields.Related {
		if r = strings.TrimSpace(r); r != "" {
			related = append(related, r)
		}
	}

	return model.CrashEvent{
		Timestamp:    ts,
		CrashType:    ParseCrashType(fields.CrashType, desc),
		AppID:        strings.TrimSpace(fields.AppID),
		DeviceID:     device,
		Description:  desc,
		RelatedTexts: related,
		Source:       "log",
		TimeInferred: inferred,
	}, nil
}

// ParseCrashType canonicalizes the free-form crash type label. When the label
// is missing it is inferred from the description text.
func ParseCrashType(label, description string) string {
	n := strings.ToLower(strings.TrimSpace(label))
	switch n {
	case "oom", "oom_kill", "out_of_memory", "outofmemory":
		return "oom"
	case "anr", "not_responding", "app_not_responding":
		return "anr"
	case "native", "native_crash", "sigsegv", "tombstone":
		return "native"
	case "java", "java_crash", "exception":
		return "java"
	case "":
	default:
		return n
	}
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "outofmemoryerror") || strings.Contains(d, "out of memory"):
		return "oom"
	case strings.Contains(d, "anr in") || strings.Contains(d, "not responding"):
		return "anr"
	case strings.Contains(d, "sigsegv") || strings.Contains(d, "sigabrt") || strings.Contains(d, "tombstone"):
		return "native"
	case strings.Contains(d, "exception"):
		return "java"
	}
	return "unknown"
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// Logcat-style layouts omit the year; it is inferred from the current time.
var logcatLayouts = []string{
	"01-02 15:04:05.000",
	"01-02 15:04:05",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	for _, layout := range logcatLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			now := time.Now().In(loc)
			return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
