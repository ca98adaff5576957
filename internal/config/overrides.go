package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CalendarOverride pins the calendar page of one library, skipping discovery.
type CalendarOverride struct {
	// Library is the roster name, matched exactly.
	Library string `yaml:"library"`
	// URL is the absolute calendar page URL.
	URL string `yaml:"url"`
}

type overridesFile struct {
	Calendars []CalendarOverride `yaml:"calendars"`
}

// CalendarOverrides maps roster names to known calendar URLs.
type CalendarOverrides map[string]string

// LoadCalendarOverrides reads the YAML override file at path:
//
//	calendars:
//	  - library: Fresno County Public Library
//	    url: https://fresnolibrary.org/events
//
// An empty path or a missing file yields no overrides.
func LoadCalendarOverrides(path string) (CalendarOverrides, error) {
	out := CalendarOverrides{}
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calendar overrides: %w", err)
	}

	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse calendar overrides %s: %w", path, err)
	}

	for i, o := range f.Calendars {
		name := strings.TrimSpace(o.Library)
		u := strings.TrimSpace(o.URL)
		if name == "" || !strings.HasPrefix(u, "http") {
			return nil, fmt.Errorf("calendar override %d: library and an http(s) url are required", i)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("calendar override %d: duplicate library %q", i, name)
		}
		out[name] = u
	}
	return out, nil
}

// Lookup returns the override for library, if any.
func (o CalendarOverrides) Lookup(library string) (string, bool) {
	u, ok := o[library]
	return u, ok
}
