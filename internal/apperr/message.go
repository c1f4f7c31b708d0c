package apperr

import (
	"errors"
	"strings"
)

const connectivityMessage = "Cannot reach the server right now. Please check your connection and try again."

type phrase struct {
	needles []string
	message string
}

// The backend only returns free text, so messages are matched by phrase.
var phrases = []phrase{
	{[]string{"failed to fetch", "networkerror"}, connectivityMessage},
	{[]string{"authentication required"}, "Your session expired. Please sign in again."},
	{[]string{"household name already taken"}, "Household name already taken. Please choose another one."},
	{[]string{"household name not found"}, "Household not found. Check the household name and try again."},
	{[]string{"invalid passcode"}, "Incorrect passcode. Please try again."},
	{[]string{"name not recognized"}, "Member name not recognized for this household."},
	{[]string{"multiple households found"}, "This household name is duplicated. Please create a unique household name."},
	{[]string{"receipt id is missing"}, "Could not delete this receipt right now. Refresh and try again."},
	{[]string{"no receipts were analyzed successfully"}, "We could not read any tickets from this batch. Try clearer images or upload fewer at once."},
	{[]string{"request failed (500"}, "Server error. Please try again in a moment."},
}

// UserMessage turns err into the banner text shown to a member. Known
// backend phrases are rewritten, anything else passes through trimmed and
// an empty message yields fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}

	msg := err.Error()
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindNetwork {
			return connectivityMessage
		}
		msg = e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
	}
	return Normalize(msg, fallback)
}

// Normalize applies the phrase table to a raw message. Unknown messages
// are returned trimmed.
func Normalize(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	lower := strings.ToLower(raw)
	for _, p := range phrases {
		for _, n := range p.needles {
			if strings.Contains(lower, n) {
				return p.message
			}
		}
	}
	return raw
}
