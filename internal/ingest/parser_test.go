package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := "2026-02-23 12:34:56 device=pixel-7-01 app=com.example.maps type=oom java.lang.OutOfMemoryError: failed allocation"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "2026-02-23 12:34:56" {
		t.Fatalf("timestamp: %s", fields.Timestamp)
	}
	if fields.DeviceID != "pixel-7-01" {
		t.Fatalf("device id: %s", fields.DeviceID)
	}
	if fields.AppID != "com.example.maps" {
		t.Fatalf("app id: %s", fields.AppID)
	}
	if fields.CrashType != "oom" {
		t.Fatalf("crash type: %s", fields.CrashType)
	}
	if fields.Description == "" {
		t.Fatalf("description missing")
	}
}

func TestParseLogcatTimestamp(t *testing.T) {
	p := NewParser()
	line := "02-23 12:34:56.789 FATAL EXCEPTION: main java.lang.OutOfMemoryError"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "02-23 12:34:56.789" {
		t.Fatalf("timestamp: %s", fields.Timestamp)
	}
	if fields.Description == "" {
		t.Fatalf("description missing")
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,device_id,app_id,crash_type,description"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("2026-02-23T12:34:56Z,pixel-7-01,com.example.maps,anr,ANR in com.example.maps")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "pixel-7-01" || fields.AppID != "com.example.maps" {
		t.Fatalf("csv parse mismatch")
	}
	if fields.CrashType != "anr" {
		t.Fatalf("crash type: %s", fields.CrashType)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":"2026-02-23T12:34:56Z","device":"pixel-7-01","package":"com.example.maps","type":"native","message":"Fatal signal 11 (SIGSEGV)","related":["backtrace: #00 pc 0000"]}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "pixel-7-01" || fields.AppID != "com.example.maps" {
		t.Fatalf("json parse mismatch")
	}
	if fields.Description != "Fatal signal 11 (SIGSEGV)" {
		t.Fatalf("description: %s", fields.Description)
	}
	if len(fields.Related) != 1 {
		t.Fatalf("related texts: %d", len(fields.Related))
	}
}

func TestParseBlankLine(t *testing.T) {
	p := NewParser()
	if fields, err := p.ParseLine("   "); fields != nil || err != nil {
		t.Fatalf("blank line must yield nothing")
	}
}
