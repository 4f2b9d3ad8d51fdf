package model

// ProxyConfig is the global proxy endpoint the client routes assistant
// traffic through when the active provider opts in. Username and Password
// are sensitive fields for export purposes.
type ProxyConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// TerminalSettings holds the embedded terminal presentation preferences.
type TerminalSettings struct {
	FontFamily string `json:"font_family,omitempty"`
	FontSize   int    `json:"font_size,omitempty"`
}

// DefaultTerminalSettings returns the preferences applied before the user
// has ever customized the terminal.
func DefaultTerminalSettings() TerminalSettings {
	return TerminalSettings{
		FontFamily: "monospace",
		FontSize:   14,
	}
}

// ProjectFilter restricts which project directories the client surfaces.
// Patterns are path globs; an empty filter shows everything.
type ProjectFilter struct {
	Enabled  bool     `json:"enabled"`
	Patterns []string `json:"patterns,omitempty"`
}
