// Package ui styles terminal output for the ledgersync CLI.
package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#16858E", Dark: "#2CD7C7"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#1E8449", Dark: "#2ECC71"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B7950B", Dark: "#F4D03F"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#E74C3C"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#5D6D7E", Dark: "#839192"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	keyStyle    = lipgloss.NewStyle().Bold(true)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "!"
	IconFail = "✗"
)

// ConfigureColor drops to plain text when w is not a color terminal or
// NO_COLOR is set.
func ConfigureColor(w io.Writer) {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

// DisableColor forces plain output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// Pass, Warn and Fail prefix a message with its status icon.
func Pass(msg string) string { return RenderPass(IconPass) + " " + msg }
func Warn(msg string) string { return RenderWarn(IconWarn) + " " + msg }
func Fail(msg string) string { return RenderFail(IconFail) + " " + msg }

// KeyValues renders aligned "key  value" lines.
func KeyValues(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		if w := lipgloss.Width(p[0]); w > width {
			width = w
		}
	}

	var b strings.Builder
	for _, p := range pairs {
		key := keyStyle.Width(width + 2).Render(p[0])
		b.WriteString(key)
		b.WriteString(p[1])
		b.WriteByte('\n')
	}
	return b.String()
}
