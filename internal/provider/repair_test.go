package provider

import (
	"testing"
)

func TestDecodeJSONCleanInput(t *testing.T) {
	m, err := DecodeJSON(`{"summary": "tight pacing", "score": 8}`)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if m["summary"] != "tight pacing" || m["score"] != float64(8) {
		t.Fatalf("parsed = %v", m)
	}
}

func TestDecodeJSONMarkdownFences(t *testing.T) {
	in := "```json\n{\"title\": \"The Long Rain\"}\n```"
	m, err := DecodeJSON(in)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if m["title"] != "The Long Rain" {
		t.Fatalf("parsed = %v", m)
	}
}

func TestDecodeJSONProseAroundObject(t *testing.T) {
	in := `Sure, here is the analysis you asked for:

{"issues": [{"type": "pacing"}], "note": "uses } inside a string"}

Hope that helps!`
	m, err := DecodeJSON(in)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if m["note"] != "uses } inside a string" {
		t.Fatalf("brace-in-string truncated the object: %v", m)
	}
}

func TestDecodeJSONTrailingCommas(t *testing.T) {
	in := `{"keywords": ["noir", "rain",], "count": 2,}`
	m, err := DecodeJSON(in)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	kws, ok := m["keywords"].([]any)
	if !ok || len(kws) != 2 {
		t.Fatalf("parsed = %v", m)
	}
}

func TestDecodeJSONControlCharacter(t *testing.T) {
	in := "{\"body\": \"line one\x01line two\"}"
	m, err := DecodeJSON(in)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if m["body"] != "line oneline two" {
		t.Fatalf("parsed = %v", m)
	}
}

func TestDecodeJSONBareKeys(t *testing.T) {
	in := `{title: "x", back_matter: "y", nested: {inner-key: 1}}`
	m, err := DecodeJSON(in)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if m["title"] != "x" || m["back_matter"] != "y" {
		t.Fatalf("parsed = %v", m)
	}
	nested, ok := m["nested"].(map[string]any)
	if !ok || nested["inner-key"] != float64(1) {
		t.Fatalf("nested = %v", m["nested"])
	}
}

func TestDecodeJSONCompoundDamage(t *testing.T) {
	in := "The model says:\n```json\n{summary: \"ok\", items: [1, 2,],}\n```"
	m, err := DecodeJSON(in)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if m["summary"] != "ok" {
		t.Fatalf("parsed = %v", m)
	}
}

func TestDecodeJSONUnrepairable(t *testing.T) {
	if _, err := DecodeJSON("I could not produce the analysis, sorry."); err == nil {
		t.Fatal("expected error for non-JSON text")
	}
	if _, err := DecodeJSON("null"); err == nil {
		t.Fatal("expected error for JSON null")
	}
}

func TestParseFailedRecord(t *testing.T) {
	rec := ParseFailedRecord()
	if rec["parseError"] != true {
		t.Fatalf("sentinel = %v", rec)
	}
}
