package chat

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rogeecn/fub-assistant/internal/crm"
)

func TestFormatResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "adds bullets and keeps three lines",
			raw:  "Call them today\n\n  Send a listing  \nAsk about budget\nFourth line",
			want: "• Call them today\n• Send a listing\n• Ask about budget",
		},
		{
			name: "keeps existing markers",
			raw:  "• Already bulleted\n- Dashed\nPlain",
			want: "• Already bulleted\n- Dashed\n• Plain",
		},
		{
			name: "blank input",
			raw:  " \n\t\n",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatResponse(tt.raw); got != tt.want {
				t.Fatalf("FormatResponse() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatResponseTruncatesByCharacter(t *testing.T) {
	raw := strings.Repeat("é", 450)

	got := FormatResponse(raw)
	if n := utf8.RuneCountInString(got); n != 400 {
		t.Fatalf("rune count = %d, want 400", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("result %q does not end with ellipsis", got[len(got)-10:])
	}
	if !strings.HasPrefix(got, "• é") {
		t.Fatalf("result prefix = %q", got[:8])
	}

	exact := strings.Repeat("a", 398)
	if got := FormatResponse(exact); got != "• "+exact {
		t.Fatalf("400-character answer was changed")
	}
}

func TestSummarizeActivities(t *testing.T) {
	if got := SummarizeActivities(nil); got != "No recent activities found." {
		t.Fatalf("empty summary = %q", got)
	}

	// Newest first; the oldest entry falls outside the five-activity window.
	activities := []crm.Activity{
		{Type: "Outgoing call", Created: "2026-01-06"},
		{Type: "Note", Created: "2026-01-05"},
		{Type: "SMS", Created: "2026-01-04"},
		{Type: "Incoming Call", Created: "2026-01-03"},
		{Type: "Email", Created: "2026-01-02"},
		{Type: "Call", Created: "2026-01-01"},
	}

	want := "2 calls (latest: 2026-01-06); 1 texts (latest: 2026-01-04); 1 emails (latest: 2026-01-02); 1 notes (latest: 2026-01-05)"
	if got := SummarizeActivities(activities); got != want {
		t.Fatalf("SummarizeActivities() = %q, want %q", got, want)
	}

	other := []crm.Activity{{Type: "Property Viewed", Created: "2026-01-01"}}
	if got := SummarizeActivities(other); got != "No recent activities found." {
		t.Fatalf("unmatched summary = %q", got)
	}
}

func TestLeadSummary(t *testing.T) {
	lead := &crm.LeadData{
		Person: crm.Person{
			FirstName: "Jane",
			LastName:  "Doe",
			Source:    "Zillow",
			Emails:    []crm.ContactValue{{Value: "jane@example.com"}},
		},
		Activities: []crm.Activity{{Type: "Text Message", Created: "2026-02-01"}},
	}

	want := "Lead: Jane Doe (jane@example.com, No phone). Source: Zillow. Recent activities: 1 texts (latest: 2026-02-01)"
	if got := LeadSummary(lead); got != want {
		t.Fatalf("LeadSummary() = %q, want %q", got, want)
	}

	want = "Lead: Unknown (No email, No phone). Source: Unknown source. Recent activities: No recent activities found."
	if got := LeadSummary(nil); got != want {
		t.Fatalf("LeadSummary(nil) = %q, want %q", got, want)
	}
}
