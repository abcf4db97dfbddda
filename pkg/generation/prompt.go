package generation

import (
	"fmt"
	"strings"
	"time"
)

// Preferences personalize the system prompt
type Preferences struct {
	Name           string   `json:"name"`
	Occupation     string   `json:"occupation"`
	SelectedTraits []string `json:"selectedTraits"`
	AdditionalInfo string   `json:"additionalInfo"`
	StatsForNerds  bool     `json:"statsForNerds"`
}

func (p Preferences) empty() bool {
	return p.Name == "" && p.Occupation == "" && len(p.SelectedTraits) == 0 && p.AdditionalInfo == ""
}

const basePrompt = `You are a friendly AI assistant that answers questions and helps with tasks.
Be helpful and give relevant, accurate information.
Be respectful and polite.
Keep a natural, conversational tone.`

// SystemPrompt assembles the system prompt for a user at the given instant
func SystemPrompt(prefs Preferences, timezone string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			fmt.Fprintf(&sb, "\n\nCurrent time in user's timezone (%s): %s",
				timezone, now.In(loc).Format("Monday, January 2, 2006 at 03:04 PM MST"))
		} else {
			fmt.Fprintf(&sb, "\n\nUser timezone: %s", timezone)
		}
	}

	if !prefs.empty() {
		sb.WriteString("\n\nUser Information:")
		if prefs.Name != "" {
			fmt.Fprintf(&sb, "\n- Name: %s", prefs.Name)
		}
		if prefs.Occupation != "" {
			fmt.Fprintf(&sb, "\n- Occupation: %s", prefs.Occupation)
		}
		if len(prefs.SelectedTraits) > 0 {
			fmt.Fprintf(&sb, "\n- Personality traits: %s", strings.Join(prefs.SelectedTraits, ", "))
		}
		if prefs.AdditionalInfo != "" {
			fmt.Fprintf(&sb, "\n- Additional information: %s", prefs.AdditionalInfo)
		}
		sb.WriteString("\n\nTailor your responses to this information about the user.")
	}
	return sb.String()
}
