package metadata

import (
	"os"
	"path/filepath"
	"testing"
)

const taskSchema = `{
	"type": "object",
	"properties": {
		"estimate": {"type": "integer", "minimum": 1},
		"labels": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["estimate"],
	"additionalProperties": false
}`

func TestValidator_Validate(t *testing.T) {
	v, err := New("inline", []byte(taskSchema))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{name: "valid", doc: `{"estimate": 3, "labels": ["api"]}`},
		{name: "missing required", doc: `{"labels": []}`, wantErr: true},
		{name: "wrong type", doc: `{"estimate": "big"}`, wantErr: true},
		{name: "extra property", doc: `{"estimate": 1, "owner": "me"}`, wantErr: true},
		{name: "below minimum", doc: `{"estimate": 0}`, wantErr: true},
		{name: "not json", doc: `{estimate:`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%s) err = %v, wantErr %v", tt.doc, err, tt.wantErr)
			}
		})
	}
}

func TestNew_RejectsBadSchema(t *testing.T) {
	if _, err := New("broken", []byte(`{"type": 12}`)); err == nil {
		t.Fatal("expected compile error for invalid schema")
	}
	if _, err := New("garbage", []byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.schema.json")
	if err := os.WriteFile(path, []byte(taskSchema), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Source() != path {
		t.Fatalf("Source = %q", v.Source())
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
