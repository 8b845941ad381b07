package common

import (
	"fmt"
	"strings"

	"coin-shop-ledger-go/internal/models"
)

const (
	// Default separator widths
	DefaultWidth = 80
	WideWidth    = 100
)

// ANSI color helpers for console output.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
)

func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a title framed by separators
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a summary line framed by separators
func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// BoxPrefix returns the box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// FormatCoins renders a coin amount with thousands separators, e.g. "12,500 coins".
func FormatCoins(coins int64) string {
	sign := ""
	if coins < 0 {
		sign = "-"
		coins = -coins
	}
	digits := fmt.Sprintf("%d", coins)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + b.String() + " coins"
}

// ProgressBar draws rank progress as a fixed-width bar.
func ProgressBar(p models.RankProgress, width int) string {
	pct := p.ProgressPercent.IntPart()
	filled := int(pct) * width / 100
	return fmt.Sprintf("[%s%s] %s%%", strings.Repeat("█", filled), strings.Repeat("░", width-filled), p.ProgressPercent.StringFixed(1))
}

// StatusColor picks the console color for a redemption outcome.
func StatusColor(status models.RedemptionStatus) string {
	switch status {
	case models.StatusCompleted:
		return ColorGreen
	case models.StatusFailed:
		return ColorRed
	}
	return ColorYellow
}
