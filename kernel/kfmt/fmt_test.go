package kfmt

import (
	"bytes"
	"testing"
)

func TestFprintf(t *testing.T) {
	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no args", nil, "no args"},
		{"%t", []interface{}{true}, "true"},
		{"%t", []interface{}{false}, "false"},
		{"%s arg", []interface{}{"STRING"}, "STRING arg"},
		{"%s arg", []interface{}{[]byte("BYTES")}, "BYTES arg"},
		{"'%4s'", []interface{}{"ABC"}, "' ABC'"},
		{"'%4s'", []interface{}{"ABCDE"}, "'ABCDE'"},
		{"%d", []interface{}{uint8(10)}, "10"},
		{"%o", []interface{}{uint16(0777)}, "777"},
		{"0x%x", []interface{}{uint32(0xbadf00d)}, "0xbadf00d"},
		{"'%10d'", []interface{}{uint64(123)}, "'       123'"},
		{"'%10x'", []interface{}{uint64(0xbadf00d)}, "'000badf00d'"},
		{"%d", []interface{}{int64(-42)}, "-42"},
		{"'%5d'", []interface{}{int64(-42)}, "'  -42'"},
		{"%%escaped", nil, "%escaped"},
		{"%d %d", []interface{}{1}, "1 (MISSING)"},
		{"%d", []interface{}{1, 2}, "1%!(EXTRA)"},
		{"%z", nil, "%!(NOVERB)"},
		{"%d", []interface{}{"not an int"}, "%!(WRONGTYPE)"},
	}

	for i, spec := range specs {
		var buf bytes.Buffer
		Fprintf(&buf, spec.format, spec.args...)
		if got := buf.String(); got != spec.exp {
			t.Errorf("spec %d: expected %q; got %q", i, spec.exp, got)
		}
	}
}

func TestSetOutputSink(t *testing.T) {
	defer SetOutputSink(nil)

	Printf("buffered before sink installed")

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if got := buf.String(); got != "buffered before sink installed" {
		t.Fatalf("expected ring buffer contents to be flushed to new sink; got %q", got)
	}

	Printf(" and %s", "after")
	if got := buf.String(); got != "buffered before sink installed and after" {
		t.Fatalf("unexpected output after sink swap: %q", got)
	}
}
