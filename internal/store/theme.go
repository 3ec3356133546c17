package store

import "fmt"

// Theme is the UI colour preference.
type Theme string

// Supported themes.
const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// LoadTheme returns the stored theme, defaulting to light for missing or unknown values.
func LoadTheme(s Storage) Theme {
	v, ok, err := s.Get(KeyTheme)
	if err != nil || !ok {
		return ThemeLight
	}
	switch Theme(v) {
	case ThemeDark:
		return ThemeDark
	default:
		return ThemeLight
	}
}

// SaveTheme persists t.
func SaveTheme(s Storage, t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("store: unsupported theme %q", t)
	}
	return s.Set(KeyTheme, string(t))
}
