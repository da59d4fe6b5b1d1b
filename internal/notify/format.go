package notify

import (
	"fmt"
	"html"
	"strings"

	"kufarwatch/internal/model"
)

// FormatItem renders an item as Telegram HTML.
func FormatItem(it model.UnsentItem) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(it.Title))

	if it.Price > 0 {
		fmt.Fprintf(&b, "💰 %s\n", FormatPrice(it.Price, it.Currency))
	} else {
		b.WriteString("💰 цена не указана\n")
	}
	if it.Size != "" {
		fmt.Fprintf(&b, "📏 Размер: %s\n", html.EscapeString(it.Size))
	}
	if it.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(it.Location))
	}
	if it.SellerName != "" {
		fmt.Fprintf(&b, "👤 %s\n", html.EscapeString(it.SellerName))
	}
	if it.URL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Открыть объявление</a>\n", html.EscapeString(it.URL))
	}
	if it.SearchName != "" {
		fmt.Fprintf(&b, "\n🔎 %s", html.EscapeString(it.SearchName))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatPrice renders a minor-unit amount: "150 р." or "150,50 р.".
func FormatPrice(minor int, currency string) string {
	suffix := "р."
	if currency != "" && currency != "BYN" {
		suffix = currency
	}
	rub, kop := minor/100, minor%100
	if kop == 0 {
		return fmt.Sprintf("%d %s", rub, suffix)
	}
	return fmt.Sprintf("%d,%02d %s", rub, kop, suffix)
}
