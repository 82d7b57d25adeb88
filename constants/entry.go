package constants

import "strings"

// EntryMode is how the user supplies a receipt.
type EntryMode string

const (
	EntryQR     EntryMode = "qr"
	EntryLink   EntryMode = "link"
	EntryManual EntryMode = "manual"
)

// ManualSource is stored in racun.link when no URL was given.
const ManualSource = "manual"

// PlaceholderItemName replaces blank item names.
const PlaceholderItemName = "Stavka"

func ParseEntryMode(s string) (EntryMode, bool) {
	switch EntryMode(strings.ToLower(strings.TrimSpace(s))) {
	case EntryQR:
		return EntryQR, true
	case EntryLink:
		return EntryLink, true
	case EntryManual:
		return EntryManual, true
	}
	return "", false
}

// FromSource reports whether the mode fetches a receipt page.
func (m EntryMode) FromSource() bool {
	return m == EntryQR || m == EntryLink
}
