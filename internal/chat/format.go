package chat

import (
	"fmt"
	"strings"

	"github.com/rogeecn/fub-assistant/internal/crm"
)

const (
	maxAnswerLines = 3
	maxAnswerRunes = 400
	bullet         = "• "

	recentActivityWindow = 5
	noActivities         = "No recent activities found."
)

// FormatResponse trims a model answer to at most three bullet lines and
// 400 characters.
func FormatResponse(raw string) string {
	lines := make([]string, 0, maxAnswerLines)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "•") && !strings.HasPrefix(line, "-") {
			line = bullet + line
		}
		lines = append(lines, line)
		if len(lines) == maxAnswerLines {
			break
		}
	}

	result := strings.Join(lines, "\n")
	runes := []rune(result)
	if len(runes) > maxAnswerRunes {
		result = string(runes[:maxAnswerRunes-3]) + "..."
	}
	return result
}

type activityGroup struct {
	name  string
	match func(kind string) bool
}

var activityGroups = []activityGroup{
	{name: "calls", match: func(kind string) bool { return strings.Contains(kind, "call") }},
	{name: "texts", match: func(kind string) bool { return strings.Contains(kind, "text") || strings.Contains(kind, "sms") }},
	{name: "emails", match: func(kind string) bool { return strings.Contains(kind, "email") }},
	{name: "notes", match: func(kind string) bool { return strings.Contains(kind, "note") }},
}

// SummarizeActivities condenses the five most recent activities into
// per-type counts, e.g. "2 calls (latest: 2024-01-02); 1 emails (latest:
// 2024-01-01)". activities must be ordered newest first, as GetActivities
// returns them.
func SummarizeActivities(activities []crm.Activity) string {
	if len(activities) > recentActivityWindow {
		activities = activities[:recentActivityWindow]
	}

	grouped := make([][]crm.Activity, len(activityGroups))
	for _, activity := range activities {
		kind := strings.ToLower(activity.Type)
		for i, group := range activityGroups {
			if group.match(kind) {
				grouped[i] = append(grouped[i], activity)
				break
			}
		}
	}

	parts := make([]string, 0, len(activityGroups))
	for i, items := range grouped {
		if len(items) == 0 {
			continue
		}
		latest := items[0]
		parts = append(parts, fmt.Sprintf("%d %s (latest: %s)", len(items), activityGroups[i].name, latest.Created))
	}
	if len(parts) == 0 {
		return noActivities
	}
	return strings.Join(parts, "; ")
}

// LeadSummary renders the lead context line handed to the model.
func LeadSummary(lead *crm.LeadData) string {
	if lead == nil {
		lead = &crm.LeadData{}
	}
	person := &lead.Person

	return fmt.Sprintf("Lead: %s (%s, %s). Source: %s. Recent activities: %s",
		orDefault(person.DisplayName(), "Unknown"),
		orDefault(person.PrimaryEmail(), "No email"),
		orDefault(person.PrimaryPhone(), "No phone"),
		orDefault(strings.TrimSpace(person.Source), "Unknown source"),
		SummarizeActivities(lead.Activities),
	)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
