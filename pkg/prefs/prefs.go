// Package prefs holds the user's job search preferences and writes them into the
// local config file the automation runtime reads at startup.
package prefs

import (
	"strings"
)

// Preferences is the user's saved job search configuration.
type Preferences struct {
	JobTitles         []string `json:"job_titles" yaml:"job_titles"`
	Locations         []string `json:"locations" yaml:"locations"`
	ExperienceLevels  []string `json:"experience_levels,omitempty" yaml:"experience_levels,omitempty"`
	JobTypes          []string `json:"job_types,omitempty" yaml:"job_types,omitempty"`
	Keywords          []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	ExcludedCompanies []string `json:"excluded_companies,omitempty" yaml:"excluded_companies,omitempty"`
	MinSalary         int      `json:"min_salary,omitempty" yaml:"min_salary,omitempty"`
	MaxApplications   int      `json:"max_applications,omitempty" yaml:"max_applications,omitempty"`
	RemoteOnly        bool     `json:"remote_only" yaml:"remote_only"`
}

// Missing lists the required fields that are not filled in.
func (p *Preferences) Missing() []string {
	if p == nil {
		return []string{"job_titles", "locations"}
	}
	var missing []string
	if len(nonBlank(p.JobTitles)) == 0 {
		missing = append(missing, "job_titles")
	}
	if len(nonBlank(p.Locations)) == 0 && !p.RemoteOnly {
		missing = append(missing, "locations")
	}
	return missing
}

// Complete reports whether the preferences are sufficient to launch the bot.
func (p *Preferences) Complete() bool {
	return len(p.Missing()) == 0
}

// Normalized returns a copy with blank entries and surrounding whitespace removed.
func (p *Preferences) Normalized() Preferences {
	out := *p
	out.JobTitles = nonBlank(p.JobTitles)
	out.Locations = nonBlank(p.Locations)
	out.ExperienceLevels = nonBlank(p.ExperienceLevels)
	out.JobTypes = nonBlank(p.JobTypes)
	out.Keywords = nonBlank(p.Keywords)
	out.ExcludedCompanies = nonBlank(p.ExcludedCompanies)
	out.MinSalary = max(p.MinSalary, 0)
	out.MaxApplications = max(p.MaxApplications, 0)
	return out
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
