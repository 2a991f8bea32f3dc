package escrow

import (
	"github.com/dustin/go-humanize"
)

// formatAmount 千分位，最多两位小数：1000 -> "$1,000"，1250.5 -> "$1,250.5"
func formatAmount(amount float64) string {
	return "$" + humanize.CommafWithDigits(amount, 2)
}
