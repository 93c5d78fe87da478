package terminal

import (
	"fmt"
	"sort"

	"github.com/c-bata/go-prompt"
	"github.com/fatih/color"
)

// Theme names the colors used for each kind of terminal output.
type Theme struct {
	Name         string
	PromptColor  string
	TextColor    string
	ErrorColor   string
	SuccessColor string
	InfoColor    string
}

var themes = map[string]Theme{
	"dark": {
		Name:         "dark",
		PromptColor:  "green",
		TextColor:    "white",
		ErrorColor:   "red",
		SuccessColor: "green",
		InfoColor:    "cyan",
	},
	"light": {
		Name:         "light",
		PromptColor:  "black",
		TextColor:    "black",
		ErrorColor:   "red",
		SuccessColor: "green",
		InfoColor:    "blue",
	},
}

// ThemeNames lists the built-in themes.
func ThemeNames() []string {
	names := make([]string, 0, len(themes))
	for name := range themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ThemeManager holds the active theme. The initial theme comes from the
// configuration; changes last for the session.
type ThemeManager struct {
	currentTheme Theme
}

// NewThemeManager starts with the named theme.
func NewThemeManager(name string) (*ThemeManager, error) {
	tm := &ThemeManager{}
	if err := tm.SetTheme(name); err != nil {
		return nil, err
	}
	return tm, nil
}

// SetTheme switches to a built-in theme.
func (tm *ThemeManager) SetTheme(name string) error {
	t, ok := themes[name]
	if !ok {
		return fmt.Errorf("unknown theme: %s", name)
	}
	tm.currentTheme = t
	return nil
}

// GetThemeName returns the name of the current theme.
func (tm *ThemeManager) GetThemeName() string {
	return tm.currentTheme.Name
}

func (tm *ThemeManager) GetPromptColor() *color.Color {
	return getColorFromName(tm.currentTheme.PromptColor)
}

func (tm *ThemeManager) GetTextColor() *color.Color {
	return getColorFromName(tm.currentTheme.TextColor)
}

func (tm *ThemeManager) GetErrorColor() *color.Color {
	return getColorFromName(tm.currentTheme.ErrorColor)
}

func (tm *ThemeManager) GetSuccessColor() *color.Color {
	return getColorFromName(tm.currentTheme.SuccessColor)
}

func (tm *ThemeManager) GetInfoColor() *color.Color {
	return getColorFromName(tm.currentTheme.InfoColor)
}

// PromptPrefixColor maps the prompt color onto go-prompt's palette.
func (tm *ThemeManager) PromptPrefixColor() prompt.Color {
	switch tm.currentTheme.PromptColor {
	case "black":
		return prompt.Black
	case "red":
		return prompt.Red
	case "green":
		return prompt.Green
	case "yellow":
		return prompt.Yellow
	case "blue":
		return prompt.Blue
	case "magenta":
		return prompt.Fuchsia
	case "cyan":
		return prompt.Cyan
	default:
		return prompt.White
	}
}

func getColorFromName(name string) *color.Color {
	switch name {
	case "black":
		return color.New(color.FgBlack)
	case "red":
		return color.New(color.FgRed)
	case "green":
		return color.New(color.FgGreen)
	case "yellow":
		return color.New(color.FgYellow)
	case "blue":
		return color.New(color.FgBlue)
	case "magenta":
		return color.New(color.FgMagenta)
	case "cyan":
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}
