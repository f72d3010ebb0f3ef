// Package i18n is the single lookup point for user-facing command text.
package i18n

// T returns the text for key. No catalogs are loaded yet, so the English
// fallback is returned as is.
func T(_ string, fallback string) string {
	return fallback
}
