package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestampLayouts(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2024-01-10T14:30:00", time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC)},
		{"2024-01-10 14:30:00", time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC)},
		{"2024-01-10T14:30:00Z", time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC)},
		{"2024-01-10", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{"10/01/2024", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{"2024-01-10T14:30:00.123", time.Date(2024, 1, 10, 14, 30, 0, 123000000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.input)
			if err != nil {
				t.Fatalf("ParseTimestamp failed: %v", err)
			}
			if !ts.Equal(tt.expected) {
				t.Errorf("Expected %s, got %s", tt.expected, ts.Time)
			}
		})
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("Expected error for unrecognised timestamp")
	}
}

func TestTimestampJSON(t *testing.T) {
	var payload struct {
		Sent  Timestamp `json:"sent"`
		Empty Timestamp `json:"empty"`
		Null  Timestamp `json:"null"`
	}
	if err := json.Unmarshal([]byte(`{"sent":"2024-01-10T09:00:00","empty":"","null":null}`), &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !payload.Sent.Valid() {
		t.Error("Expected sent to be set")
	}
	if payload.Empty.Valid() || payload.Null.Valid() {
		t.Error("Expected empty and null to be absent")
	}

	out, _ := json.Marshal(payload)
	expected := `{"sent":"2024-01-10T09:00:00","empty":null,"null":null}`
	if string(out) != expected {
		t.Errorf("Expected %s, got %s", expected, out)
	}
}

func TestDateArithmetic(t *testing.T) {
	discharge := NewDate(2024, 1, 10)

	if got := discharge.DaysUntil(NewDate(2024, 1, 9)); got != -1 {
		t.Errorf("Expected -1, got %d", got)
	}
	if got := discharge.DaysUntil(NewDate(2024, 3, 1)); got != 51 {
		t.Errorf("Expected 51, got %d", got)
	}
	if got := discharge.AddDays(6).String(); got != "2024-01-16" {
		t.Errorf("Expected 2024-01-16, got %s", got)
	}
}

func TestTimestampDateDropsTime(t *testing.T) {
	ts := NewTimestamp(time.Date(2024, 1, 10, 23, 59, 0, 0, time.UTC))
	if ts.Date() != NewDate(2024, 1, 10) {
		t.Errorf("Expected 2024-01-10, got %s", ts.Date())
	}
}

func TestIsWeekend(t *testing.T) {
	if !NewDate(2024, 1, 13).IsWeekend() {
		t.Error("Expected Saturday to be a weekend day")
	}
	if NewDate(2024, 1, 15).IsWeekend() {
		t.Error("Expected Monday not to be a weekend day")
	}
}

func TestTimestampScan(t *testing.T) {
	var ts Timestamp
	if err := ts.Scan(nil); err != nil || ts.Valid() {
		t.Errorf("Expected NULL to scan to zero, got %v %v", ts, err)
	}
	if err := ts.Scan("05/02/2024"); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if ts.Date() != NewDate(2024, 2, 5) {
		t.Errorf("Expected 2024-02-05, got %s", ts.Date())
	}
	if err := ts.Scan(42); err == nil {
		t.Error("Expected error for int")
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if d.String() != "2024-02-29" {
		t.Errorf("Expected 2024-02-29, got %s", d)
	}

	for _, bad := range []string{"2024/02/29", "29-02-2024", "2023-02-29", ""} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestDateJSONIsStrict(t *testing.T) {
	tests := []struct {
		in       string
		expected string
		wantErr  bool
	}{
		{`"2024-01-13"`, "2024-01-13", false},
		{`null`, "", false},
		{`""`, "", false},
		{`"13/01/2024"`, "", true},
		{`"01/13/2024"`, "", true},
		{`"2024-01-13T08:00:00"`, "", true},
	}

	for _, tt := range tests {
		var d Date
		err := json.Unmarshal([]byte(tt.in), &d)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: expected error %v, got %v", tt.in, tt.wantErr, err)
			continue
		}
		if d.String() != tt.expected {
			t.Errorf("%s: expected %q, got %q", tt.in, tt.expected, d.String())
		}
	}
}
