// Package theme provides the Lip Gloss color palette and reusable styles
// for the viewtrack TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Platform colors.
var (
	ColorYouTube = lipgloss.Color("#ef4444")
	ColorTwitter = lipgloss.Color("#0ea5e9")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// Session state colors.
var (
	ColorActive   = lipgloss.Color("#16a34a")
	ColorPaused   = lipgloss.Color("#d97706")
	ColorIdle     = lipgloss.Color("#4b5563")
	ColorUnloaded = lipgloss.Color("#374151")
)

// Event kind colors.
var (
	ColorStart     = lipgloss.Color("#7c3aed")
	ColorHeartbeat = lipgloss.Color("#2563eb")
	ColorStop      = lipgloss.Color("#0891b2")
	ColorErrored   = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// PlatformColor returns the color for a platform wire name.
func PlatformColor(platform string) lipgloss.Color {
	switch platform {
	case "youtube":
		return ColorYouTube
	case "twitter":
		return ColorTwitter
	default:
		return ColorDefault
	}
}

// PlatformBadge returns a colored badge string for a platform.
func PlatformBadge(platform string) string {
	label := "[?]"
	switch platform {
	case "youtube":
		label = "[YT]"
	case "twitter":
		label = "[X]"
	}
	return lipgloss.NewStyle().Foreground(PlatformColor(platform)).Render(label)
}

// HealthColor returns the color for a sink health status.
func HealthColor(status string) lipgloss.Color {
	switch status {
	case "healthy":
		return ColorHealthy
	case "degraded":
		return ColorWarning
	case "failed":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// StateGlyph returns a glyph for a page's session state.
func StateGlyph(state string, paused, unloaded bool) string {
	switch {
	case unloaded:
		return "✗"
	case state == "active" && paused:
		return "‖"
	case state == "active":
		return "●"
	case state == "idle":
		return "○"
	default:
		return "·"
	}
}

// StateColor pairs with StateGlyph.
func StateColor(state string, paused, unloaded bool) lipgloss.Color {
	switch {
	case unloaded:
		return ColorUnloaded
	case state == "active" && paused:
		return ColorPaused
	case state == "active":
		return ColorActive
	default:
		return ColorIdle
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
