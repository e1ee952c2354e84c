// Package output はCLIの表示（色付きの行と表）を扱う。
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// ColorMode は色付けの方針。
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColorMode は "auto" / "always" / "never" を解釈する。
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("invalid color mode %q: must be auto, always, or never", s)
	}
}

// ResolveColors はモードと環境変数から色を使うかを決める。
// autoの場合はNO_COLORとTERM=dumbを尊重し、端末でなければ色を付けない。
func ResolveColors(mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			return false
		}
		if os.Getenv("TERM") == "dumb" {
			return false
		}
		return !color.NoColor
	}
}

// Printer は端末への出力を担う。
type Printer struct {
	out       io.Writer
	useColors bool
}

// NewPrinter はoutに書き込むPrinterを生成する。
func NewPrinter(out io.Writer, useColors bool) *Printer {
	return &Printer{out: out, useColors: useColors}
}

// Writer は出力先を返す。
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Header は見出しを出力する。
func (p *Printer) Header(title string) {
	if p.useColors {
		p.paint(color.FgWhite, color.Bold).Fprintf(p.out, "\n%s\n", title)
		p.paint(color.FgWhite).Fprintf(p.out, "%s\n", strings.Repeat("─", len([]rune(title))))
		return
	}
	fmt.Fprintf(p.out, "\n%s\n%s\n", title, strings.Repeat("-", len([]rune(title))))
}

// Info は通常のメッセージを出力する。
func (p *Printer) Info(format string, args ...any) {
	if p.useColors {
		p.paint(color.FgCyan).Fprintf(p.out, format+"\n", args...)
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Success は成功メッセージを出力する。
func (p *Printer) Success(format string, args ...any) {
	if p.useColors {
		p.paint(color.FgGreen).Fprintf(p.out, "✓ "+format+"\n", args...)
		return
	}
	fmt.Fprintf(p.out, "[OK] "+format+"\n", args...)
}

// Failure は失敗メッセージを出力する。
func (p *Printer) Failure(format string, args ...any) {
	if p.useColors {
		p.paint(color.FgRed).Fprintf(p.out, "✗ "+format+"\n", args...)
		return
	}
	fmt.Fprintf(p.out, "[FAIL] "+format+"\n", args...)
}

// Badge は合否を表す短い文字列を返す。
func (p *Printer) Badge(ok bool) string {
	if !p.useColors {
		if ok {
			return "pass"
		}
		return "FAIL"
	}
	if ok {
		return p.paint(color.FgGreen).Sprint("● pass")
	}
	return p.paint(color.FgRed, color.Bold).Sprint("● FAIL")
}

// Tone は状態表示の色合い。
type Tone int

const (
	ToneNeutral Tone = iota
	ToneGood
	ToneWarn
	ToneBad
	ToneMuted
)

// Paint はtoneに応じて色を付けた文字列を返す。
func (p *Printer) Paint(tone Tone, text string) string {
	if !p.useColors {
		return text
	}
	switch tone {
	case ToneGood:
		return p.paint(color.FgGreen).Sprint(text)
	case ToneWarn:
		return p.paint(color.FgYellow).Sprint(text)
	case ToneBad:
		return p.paint(color.FgRed).Sprint(text)
	case ToneMuted:
		return p.paint(color.Faint).Sprint(text)
	}
	return text
}

// Bold は太字の文字列を返す。
func (p *Printer) Bold(text string) string {
	if p.useColors {
		return p.paint(color.Bold).Sprint(text)
	}
	return text
}

// Dim は薄い文字列を返す。
func (p *Printer) Dim(text string) string {
	if p.useColors {
		return p.paint(color.Faint).Sprint(text)
	}
	return text
}

// Table はこのPrinterの出力先に書く表を生成する。
func (p *Printer) Table(headers ...string) *Table {
	return NewTable(p.out, headers)
}

// paint はColorAlwaysのときに端末判定を無視して色を付けるため、常に明示的に有効化する。
func (p *Printer) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	c.EnableColor()
	return c
}
