package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Examina palette
var (
	Primary    = lipgloss.Color("#6366F1") // indigo
	Secondary  = lipgloss.Color("#0EA5E9") // sky
	Success    = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	Muted      = lipgloss.Color("#6B7280")
	Foreground = lipgloss.Color("#F9FAFB")
	Highlight  = lipgloss.Color("#312E81") // selected row
	Panel      = lipgloss.Color("#1F2937")
)

var base = lipgloss.NewStyle()

var (
	BoldStyle    = base.Bold(true)
	MutedStyle   = base.Foreground(Muted)
	WarningStyle = base.Foreground(Warning)
	SuccessStyle = BoldStyle.Foreground(Success)
	ErrorStyle   = BoldStyle.Foreground(Error)
	SpinnerStyle = base.Foreground(Primary)

	// StatusStyle is a role or state badge.
	StatusStyle = BoldStyle.Foreground(Foreground).Background(Primary).Padding(0, 1)

	HeaderStyle = BoldStyle.Foreground(Primary).Background(Panel).Padding(0, 2).MarginBottom(1)
	FooterStyle = MutedStyle.MarginTop(1)

	InboxStyle = base.Border(lipgloss.RoundedBorder()).BorderForeground(Secondary).Padding(0, 1)

	NoticeStyle = WarningStyle.Border(lipgloss.ThickBorder()).BorderForeground(Warning).Padding(0, 1)
)

// Roster and device tables
var (
	TableHeaderStyle = BoldStyle.Foreground(Primary).Align(lipgloss.Center)

	cell = base.Padding(0, 1)

	TableRowStyle      = cell.Foreground(lipgloss.Color("255"))
	TableRowAltStyle   = cell.Foreground(lipgloss.Color("245"))
	TableSelectedStyle = cell.Foreground(Foreground).Background(Highlight).Bold(true)
)

const (
	IconSuccess  = "✅"
	IconError    = "❌"
	IconWarning  = "⚠️"
	IconInfo     = "ℹ️"
	IconExam     = "📝"
	IconPeer     = "👤"
	IconConnect  = "🔌"
	IconCamera   = "📷"
	IconMic      = "🎙️"
	IconHand     = "✋"
	IconChat     = "💬"
	IconVoice    = "🔊"
	IconWaiting  = "⏳"
	IconStale    = "⌛"
	IconDisabled = "·"
)

// out is where the Print helpers write.
var out io.Writer = os.Stdout

func line(icon string, iconStyle, textStyle *lipgloss.Style, msg string) {
	if iconStyle != nil {
		icon = iconStyle.Render(icon)
	}
	if textStyle != nil {
		msg = textStyle.Render(msg)
	}
	fmt.Fprintf(out, "%s %s\n", icon, msg)
}

func PrintError(msg string)   { line(IconError, &ErrorStyle, &ErrorStyle, msg) }
func PrintWarning(msg string) { line(IconWarning, &WarningStyle, &WarningStyle, msg) }
func PrintSuccess(msg string) { line(IconSuccess, &SuccessStyle, nil, msg) }
func PrintInfo(msg string)    { line(IconInfo, nil, nil, msg) }

func PrintErrorf(format string, args ...any)   { PrintError(fmt.Sprintf(format, args...)) }
func PrintWarningf(format string, args ...any) { PrintWarning(fmt.Sprintf(format, args...)) }
func PrintSuccessf(format string, args ...any) { PrintSuccess(fmt.Sprintf(format, args...)) }
func PrintInfof(format string, args ...any)    { PrintInfo(fmt.Sprintf(format, args...)) }
