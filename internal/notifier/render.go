package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

const timestampLayout = "02.01.2006 15:04:05"

// Render formats change as a Telegram HTML message.
func Render(change domain.PriceChange, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	marker := "📉"
	if change.Up() {
		marker = "📈"
	}
	base := "CNY"
	if len(change.New) > 0 {
		base = change.New[0].Currency
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Price change</b>\n\n", marker)
	fmt.Fprintf(&b, "📦 %s\n", html.EscapeString(change.ItemName))
	fmt.Fprintf(&b, "🔗 goods_id: %d\n\n", change.CatalogID)
	b.WriteString("💰 <b>New price:</b>\n")
	b.WriteString(formatAmounts(change.New, change.NewPrice, base))
	b.WriteString("\n\n💾 <b>Old price:</b>\n")
	b.WriteString(formatAmounts(change.Old, change.OldPrice, base))
	fmt.Fprintf(&b, "\n\n📊 Change: %s\n\n", FormatDelta(change, base))
	fmt.Fprintf(&b, "🕒 %s", change.At.In(loc).Format(timestampLayout))
	return b.String()
}

// FormatDelta renders the signed difference and percent, e.g.
// "+5.00 CNY (+5.0%)" or "-10.00 CNY (-10.0%)".
func FormatDelta(change domain.PriceChange, base string) string {
	sign := ""
	if change.Diff.IsPositive() {
		sign = "+"
	}
	return fmt.Sprintf("%s%s %s (%s%s%%)", sign, change.Diff.StringFixed(2), base, sign, change.Percent.StringFixed(1))
}

func formatAmounts(a domain.Amounts, fallback decimal.Decimal, base string) string {
	if len(a) == 0 {
		return fmt.Sprintf("%s %s %s", currencySymbol(base), fallback.StringFixed(2), base)
	}
	lines := make([]string, 0, len(a))
	for _, m := range a {
		lines = append(lines, fmt.Sprintf("%s %s %s", currencySymbol(m.Currency), m.Amount.StringFixed(2), m.Currency))
	}
	return strings.Join(lines, "\n")
}

func currencySymbol(cur string) string {
	switch cur {
	case "CNY", "JPY":
		return "💴"
	case "USD":
		return "💵"
	case "EUR":
		return "💶"
	case "GBP":
		return "💷"
	default:
		return "💸"
	}
}
