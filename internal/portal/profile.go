package portal

// Profile describes one portal dialect. The MAC and Stalker families speak
// the same handshake but disagree on the API path, the first page index and
// how series are listed; deployments drift further, so all of it is
// configuration data rather than compiled constants.
type Profile struct {
	Name string `yaml:"name"`
	// Paths are tried in order; a path answering 404 falls through to the next.
	Paths []string `yaml:"paths"`
	// FirstPage is the value of the first "p" pagination parameter (0 or 1).
	FirstPage int `yaml:"first_page"`
	// SeriesType is the "type" parameter used when listing series:
	// "series" on portal.php deployments, "vod" (with is_series filtering)
	// on stalker_portal ones.
	SeriesType string `yaml:"series_type"`
	// RefererPath is appended to the portal host for the Referer header.
	RefererPath string `yaml:"referer_path"`
}

// StalkerProfile is the stalker_portal dialect: load.php under
// /stalker_portal/server with a legacy fallback, 1-based pages, series
// listed through the VOD tree.
func StalkerProfile() Profile {
	return Profile{
		Name:        "stalker",
		Paths:       []string{"/stalker_portal/server/load.php", "/stalker_portal/load.php"},
		FirstPage:   1,
		SeriesType:  "vod",
		RefererPath: "/stalker_portal/c/index.html",
	}
}

// MacProfile is the generic MAC portal dialect: a single /portal.php
// endpoint, 0-based pages, a dedicated series type.
func MacProfile() Profile {
	return Profile{
		Name:        "mac",
		Paths:       []string{"/portal.php"},
		FirstPage:   0,
		SeriesType:  "series",
		RefererPath: "/c/index.html",
	}
}

// BuiltinProfile returns the named builtin profile, defaulting to stalker
// for unknown names.
func BuiltinProfile(name string) Profile {
	switch name {
	case "mac", "portal", "portal.php":
		return MacProfile()
	default:
		return StalkerProfile()
	}
}

// SeriesUsesVODTree reports whether series listing goes through type=vod
// and needs is_series filtering client-side.
func (p Profile) SeriesUsesVODTree() bool { return p.SeriesType != "series" }
