// Package preferences stores toolbox-wide user preferences.
package preferences

import (
	"context"
	"errors"
	"fmt"

	"go-chi-calculator/internal/storage"
)

const themeKey = "tb_theme"

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// ErrInvalidTheme is returned for themes other than light and dark.
var ErrInvalidTheme = errors.New("invalid theme")

// Themes reads and writes the theme preference. The default is passed in
// explicitly rather than read from global state.
type Themes struct {
	store        storage.Store
	defaultTheme string
}

func NewThemes(store storage.Store, defaultTheme string) *Themes {
	if !validTheme(defaultTheme) {
		defaultTheme = ThemeLight
	}
	return &Themes{store: store, defaultTheme: defaultTheme}
}

func validTheme(theme string) bool {
	return theme == ThemeLight || theme == ThemeDark
}

// Theme returns the stored theme, or the default when none was saved.
func (t *Themes) Theme(ctx context.Context) (string, error) {
	theme, err := t.store.Get(ctx, themeKey)
	if errors.Is(err, storage.ErrNotFound) {
		return t.defaultTheme, nil
	}
	if err != nil {
		return "", fmt.Errorf("load theme: %w", err)
	}
	if !validTheme(theme) {
		return t.defaultTheme, nil
	}
	return theme, nil
}

func (t *Themes) SetTheme(ctx context.Context, theme string) error {
	if !validTheme(theme) {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
	}
	if err := t.store.Set(ctx, themeKey, theme); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

// Reset forgets the stored theme so the default applies again.
func (t *Themes) Reset(ctx context.Context) error {
	if err := t.store.Remove(ctx, themeKey); err != nil {
		return fmt.Errorf("reset theme: %w", err)
	}
	return nil
}
