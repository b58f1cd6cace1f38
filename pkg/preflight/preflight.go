// Package preflight decides whether the bot may be launched.
// It combines the externally supplied launch conditions (credits, preferences,
// profile, automation runtime) into one verdict plus the most relevant reason
// when launching is blocked.
package preflight

import (
	"fmt"
)

// Check identifies one launch precondition.
type Check string

// Precondition checks, in display order.
const (
	CheckProfile     Check = "profile"
	CheckPreferences Check = "preferences"
	CheckCredits     Check = "credits"
	CheckRuntime     Check = "runtime"
)

// Blocking reasons, in precedence order.
const (
	ReasonProfileAndPreferences = "Complete your profile and job search preferences before launching the bot."
	ReasonProfile               = "Publish your profile before launching the bot."
	ReasonPreferences           = "Complete your job search preferences before launching the bot."
	ReasonCredits               = "You have no credits left. Add credits to launch the bot."
	ReasonRuntime               = "The automation runtime is not installed. Install it to launch the bot."
)

// Conditions are the external signals the gate combines.
type Conditions struct {
	Credits             int  `json:"credits"`
	PreferencesComplete bool `json:"preferences_complete"`
	ProfilePublished    bool `json:"profile_published"`
	RuntimeInstalled    bool `json:"runtime_installed"`
}

// CheckResult represents the outcome of a single precondition.
type CheckResult struct {
	Check   Check  `json:"check"`
	Message string `json:"message"`
	Passed  bool   `json:"passed"`
}

// Results contains all precondition results.
type Results struct {
	Summary        string        `json:"summary"`
	BlockingReason string        `json:"blocking_reason,omitempty"`
	Checks         []CheckResult `json:"checks"`
	Passed         bool          `json:"passed"`
}

// CanLaunch is the pure launch predicate.
func CanLaunch(credits int, preferencesComplete, profilePublished, runtimeInstalled bool) bool {
	return credits > 0 && preferencesComplete && profilePublished && runtimeInstalled
}

// CanLaunch reports whether every precondition holds.
func (c Conditions) CanLaunch() bool {
	return CanLaunch(c.Credits, c.PreferencesComplete, c.ProfilePublished, c.RuntimeInstalled)
}

// BlockingReason returns the single most relevant explanation, or "" when launchable.
func (c Conditions) BlockingReason() string {
	switch {
	case !c.ProfilePublished && !c.PreferencesComplete:
		return ReasonProfileAndPreferences
	case !c.ProfilePublished:
		return ReasonProfile
	case !c.PreferencesComplete:
		return ReasonPreferences
	case c.Credits <= 0:
		return ReasonCredits
	case !c.RuntimeInstalled:
		return ReasonRuntime
	default:
		return ""
	}
}

// Run evaluates every precondition individually.
func Run(c Conditions) *Results {
	results := &Results{
		Checks: []CheckResult{
			boolCheck(CheckProfile, c.ProfilePublished, "Profile is published", "Profile is not published"),
			boolCheck(CheckPreferences, c.PreferencesComplete, "Job search preferences are complete", "Job search preferences are incomplete"),
			{
				Check:   CheckCredits,
				Passed:  c.Credits > 0,
				Message: fmt.Sprintf("%d credits available", max(c.Credits, 0)),
			},
			boolCheck(CheckRuntime, c.RuntimeInstalled, "Automation runtime is installed", "Automation runtime is not installed"),
		},
	}

	failed := 0
	for i := range results.Checks {
		if !results.Checks[i].Passed {
			failed++
		}
	}

	results.Passed = failed == 0
	results.BlockingReason = c.BlockingReason()
	if results.Passed {
		results.Summary = fmt.Sprintf("All %d launch checks passed", len(results.Checks))
	} else {
		results.Summary = fmt.Sprintf("%d of %d launch checks failed", failed, len(results.Checks))
	}
	return results
}

func boolCheck(check Check, passed bool, okMsg, failMsg string) CheckResult {
	result := CheckResult{Check: check, Passed: passed, Message: okMsg}
	if !passed {
		result.Message = failMsg
	}
	return result
}
