package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"crashguard/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	flat := map[string]string{}
	var related []string
	for key, val := range obj {
		k := strings.ToLower(key)
		switch k {
		case "related", "related_texts", "logs", "context":
			related = append(related, stringList(val)...)
		default:
			flat[k] = fmt.Sprint(val)
		}
	}
	return &normalize.EventFields{
		Timestamp:   firstNonEmpty(flat, "timestamp", "time", "ts"),
		CrashType:   firstNonEmpty(flat, "crash_type", "type", "kind"),
		AppID:       firstNonEmpty(flat, "app_id", "app", "package", "process"),
		DeviceID:    firstNonEmpty(flat, "device_id", "device", "serial"),
		Description: firstNonEmpty(flat, "description", "message", "msg", "reason"),
		Related:     related,
	}
}

func stringList(val interface{}) []string {
	switch v := val.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
		return nil
	default:
		if val == nil {
			return nil
		}
		return []string{fmt.Sprint(val)}
	}
}
