package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snapetech/portal-client/internal/portal"
)

// profilesFile is the YAML shape of an extra-profiles catalog:
//
//	profiles:
//	  - name: ministra
//	    paths: ["/ministra/server/load.php"]
//	    first_page: 1
//	    series_type: vod
//	    referer_path: /c/index.html
type profilesFile struct {
	Profiles []portal.Profile `yaml:"profiles"`
}

// ResolveProfile returns the dialect profile for name, consulting the
// YAML catalog at path first (when set) and falling back to the builtins.
func ResolveProfile(name, path string) (portal.Profile, error) {
	if path != "" {
		extras, err := loadProfiles(path)
		if err != nil {
			return portal.Profile{}, err
		}
		for _, p := range extras {
			if p.Name == name {
				return p, nil
			}
		}
	}
	return portal.BuiltinProfile(name), nil
}

func loadProfiles(path string) ([]portal.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profiles %s: %w", path, err)
	}
	var pf profilesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("profiles %s: %w", path, err)
	}
	for i, p := range pf.Profiles {
		if p.Name == "" || len(p.Paths) == 0 {
			return nil, fmt.Errorf("profiles %s: entry %d missing name or paths", path, i)
		}
	}
	return pf.Profiles, nil
}
