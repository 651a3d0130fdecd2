package events

import "strings"

// normalizeAsset canonicalises an asset symbol the same way the ledger does,
// so event attributes match query keys.
func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}
