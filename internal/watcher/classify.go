package watcher

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// subjectTolerance is the maximum edit distance at which a subject still
// counts as matching a trigger phrase. Two edits absorb the typos hand-typed
// subjects tend to carry.
const subjectTolerance = 2

// Result is the outcome of classifying one candidate message against the
// current allow-lists.
type Result struct {
	Allowed    bool
	Triggering bool
	Stale      bool
}

// Matched reports whether the message should be acted on at all.
func (r Result) Matched() bool {
	return r.Allowed && r.Triggering
}

// Classify evaluates one candidate. It is a pure function of the candidate,
// the lists, and the clock; callers re-load the lists before every call.
func Classify(c Candidate, lists AllowLists, now time.Time, expiration time.Duration) Result {
	return Result{
		Allowed:    senderAllowed(c.Sender, lists.Senders),
		Triggering: subjectTriggers(c.Subject, lists.Subjects),
		Stale:      tooOld(c.Date, now, expiration),
	}
}

// senderAllowed reports whether name appears verbatim in the sender list.
// Matching is exact and case-sensitive.
func senderAllowed(name string, senders []string) bool {
	for _, s := range senders {
		if s == name {
			return true
		}
	}
	return false
}

// subjectTriggers reports whether the lowercased subject is within
// subjectTolerance edits of any trigger phrase. Entries are compared as
// stored.
func subjectTriggers(subject string, triggers []string) bool {
	lowered := strings.ToLower(subject)
	for _, trigger := range triggers {
		if levenshtein.ComputeDistance(lowered, trigger) <= subjectTolerance {
			return true
		}
	}
	return false
}

// tooOld reports whether the message age strictly exceeds limit. A message
// dated in the future (clock skew between server and watcher) is never
// considered old.
func tooOld(date, now time.Time, limit time.Duration) bool {
	age := now.Sub(date)
	if age < 0 {
		return false
	}
	return age > limit
}
