package kfmt

import (
	"bytes"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &PrefixWriter{Sink: &buf, Prefix: []byte("[drv] ")}

	Fprintf(w, "line one\nline two\nline three")

	exp := "[drv] line one\n[drv] line two\n[drv] line three"
	if got := buf.String(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}
}
