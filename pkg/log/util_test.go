package log

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", []any{}, nil},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, []string{"a", "b", "c"}},
		{"time type", []any{"t", now}, []string{"t"}},
		{"duration type", []any{"settle", 500 * time.Millisecond}, []string{"settle"}},
		{"bytes", []any{"frame", []byte{0x41, 0x01, 0xFF, 0x0D}}, []string{"frame"}},
		{"error only", []any{err}, []string{"error"}},
		{"mixed field types", []any{"msg", "ok", zap.String("x", "y"), "num", 42}, []string{"msg", "x", "num"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
		{"nil values", []any{"a", nil}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("got %d fields, want %d: %+v", len(fields), len(tt.wantKeys), fields)
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.wantKeys[i])
				}
			}
		})
	}
}

func TestBytesLogAsHex(t *testing.T) {
	f := toFields("frame", []byte{0x41, 0x01, 0xFF, 0x0D})[0]
	if f.Type != zapcore.StringType || f.String != "4101ff0d" {
		t.Fatalf("frame field = %+v", f)
	}
}

func TestToFieldsTyping(t *testing.T) {
	fields := toFields("cycle", 3, "ok", true, "delay", time.Second)

	want := []zapcore.FieldType{zapcore.Int64Type, zapcore.BoolType, zapcore.DurationType}
	for i, f := range fields {
		if f.Type != want[i] {
			t.Errorf("field %q type = %v, want %v", f.Key, f.Type, want[i])
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := NewOptions()
	if errs := opts.Validate(); len(errs) != 0 {
		t.Fatalf("default options should be valid, got %v", errs)
	}

	opts.Level = "chatty"
	opts.Format = "xml"
	if errs := opts.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != Std() {
		t.Fatal("empty context should yield the global logger")
	}

	l := NewNopLogger().WithName("unit")
	ctx := IntoContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("expected the logger stored in the context")
	}
}
