package llm

import "strings"

// BuildPrompt renders the fixed-shape classifier request for one receipt.
// categoryContext is the category explanation embedded before the receipt text.
func BuildPrompt(receiptText, categoryContext string) string {
	var b strings.Builder
	b.WriteString("Return ONLY a JSON array of receipt line items. ")
	b.WriteString("Each object must have: naziv (string), kategorija (integer), cena (number), ")
	b.WriteString("kolicina (integer), datum(SQL date),vreme(SQL time). ")
	if categoryContext != "" {
		b.WriteString(categoryContext)
		b.WriteString(" ")
	}
	b.WriteString("No markdown, no explanation. Receipt text:\n\n")
	b.WriteString(receiptText)
	return b.String()
}
