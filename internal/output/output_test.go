package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseColorMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ColorMode
		wantErr bool
	}{
		{"", ColorAuto, false},
		{"auto", ColorAuto, false},
		{"always", ColorAlways, false},
		{"never", ColorNever, false},
		{"rainbow", ColorAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseColorMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColorMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseColorMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveColors(t *testing.T) {
	if !ResolveColors(ColorAlways) {
		t.Error("always では色を使うべき")
	}
	if ResolveColors(ColorNever) {
		t.Error("never では色を使わないべき")
	}
	t.Setenv("NO_COLOR", "1")
	if ResolveColors(ColorAuto) {
		t.Error("NO_COLOR が設定されていれば色を使わないべき")
	}
}

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Header("Summary")
	p.Success("done %d", 3)
	p.Failure("broken")

	got := buf.String()
	for _, want := range []string{"Summary\n-------\n", "[OK] done 3\n", "[FAIL] broken\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("出力に %q が含まれるべき: %q", want, got)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Error("色なしの場合はエスケープシーケンスを含まないべき")
	}
	if p.Badge(true) != "pass" || p.Badge(false) != "FAIL" {
		t.Errorf("Badge = %q / %q", p.Badge(true), p.Badge(false))
	}
}

func TestPrinter_ColoredOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Success("ok")

	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("色ありの場合はエスケープシーケンスを含むべき: %q", buf.String())
	}
	if !strings.Contains(p.Bold("x"), "x") {
		t.Error("Bold は元の文字列を含むべき")
	}
}

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"name", "count"})
	table.AddRow("latest", "12")
	table.AddRow("top", "7")

	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
	if err := table.Render(); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"NAME", "COUNT", "latest", "12", "top", "7"} {
		if !strings.Contains(got, want) {
			t.Errorf("表に %q が含まれるべき:\n%s", want, got)
		}
	}
}

func TestPrinter_Paint(t *testing.T) {
	plain := NewPrinter(&bytes.Buffer{}, false)
	if got := plain.Paint(ToneBad, "idle"); got != "idle" {
		t.Errorf("色なしのPaint = %q, want idle", got)
	}

	colored := NewPrinter(&bytes.Buffer{}, true)
	if got := colored.Paint(ToneGood, "ready"); !strings.Contains(got, "\x1b[32m") || !strings.Contains(got, "ready") {
		t.Errorf("色ありのPaint = %q", got)
	}
	if got := colored.Paint(ToneNeutral, "x"); got != "x" {
		t.Errorf("ToneNeutral は色を付けないべき: %q", got)
	}
}
