package preflight

import (
	"fmt"
	"strings"
)

// FormatResults formats all precondition results for display.
func FormatResults(results *Results) string {
	var sb strings.Builder

	if results.Passed {
		sb.WriteString("Launch checks passed\n")
	} else {
		sb.WriteString("Launch blocked: ")
		sb.WriteString(results.BlockingReason)
		sb.WriteString("\n")
	}

	for i := range results.Checks {
		check := &results.Checks[i]
		status := "PASS"
		if !check.Passed {
			status = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("  [%s] %s: %s\n", status, check.Check, check.Message))
		if !check.Passed {
			sb.WriteString(fmt.Sprintf("         %s\n", getGuidance(check.Check)))
		}
	}

	return sb.String()
}

// getGuidance returns actionable guidance for fixing a failed check.
func getGuidance(check Check) string {
	switch check {
	case CheckProfile:
		return "Fill in the required profile fields and publish your profile from the dashboard."
	case CheckPreferences:
		return "Set job titles, locations and experience level on the preferences page."
	case CheckCredits:
		return "Purchase a credit pack from the billing page."
	case CheckRuntime:
		return "Install the desktop app, or set runtime.command to the automation runner binary."
	default:
		return "No guidance available."
	}
}
