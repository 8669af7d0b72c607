package conversation

import "strings"

// FAQEntry answers free text containing any of its keywords.
type FAQEntry struct {
	Keywords []string
	Answer   string
}

var DefaultFAQ = []FAQEntry{
	{
		Keywords: []string{"hour", "open", "close", "saturday", "sunday"},
		Answer:   "We are open Monday to Friday, from 8am to 6pm.",
	},
	{
		Keywords: []string{"specialt", "doctor"},
		Answer:   "We offer Cardiology, Dermatology, Gynecology and Pediatrics.",
	},
	{
		Keywords: []string{"insurance", "health plan", "plans", "coverage"},
		Answer:   "We accept Unimed, SulAmérica and Bradesco Saúde health plans.",
	},
}

// matchFAQ returns the first entry with a keyword in s, case-insensitively.
func matchFAQ(entries []FAQEntry, s string) (string, bool) {
	s = strings.ToLower(s)
	for _, e := range entries {
		for _, k := range e.Keywords {
			if strings.Contains(s, k) {
				return e.Answer, true
			}
		}
	}
	return "", false
}
