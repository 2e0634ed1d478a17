package qrcode

import (
	"bytes"
	"strings"
	"testing"
)

func TestPNG(t *testing.T) {
	img, err := PNG("2@abc,def,ghi")
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatalf("expected png signature, got %q", img[:8])
	}
}

func TestPNGRejectsEmpty(t *testing.T) {
	if _, err := PNG(""); err == nil {
		t.Fatal("expected error for empty code")
	}
}

func TestPrintTerminal(t *testing.T) {
	var buf bytes.Buffer
	PrintTerminal(&buf, "2@abc")
	if strings.Count(buf.String(), "\n") < 5 {
		t.Fatalf("expected a multi-line qr, got %q", buf.String())
	}
}
