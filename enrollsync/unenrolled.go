package enrollsync

import (
	"context"

	"github.com/courseops/commerce-sync/sailthru"
)

// syncUnenrolledList reconciles the "unenrolled" course list stored on the
// user's Sailthru profile with the event: an active enrollment removes the
// course URL from the list, an unenrollment adds it. Returns false when the
// caller should have the whole event redelivered.
//
// This is a plain read-then-write protocol: Sailthru has no compare-and-swap
// on user vars, so concurrent reconciliations for the same user can overwrite
// each other. That race is tolerated (the lists converge on later events) and
// deliberately not hidden behind a process-local lock, which could not cover
// cross-process races anyway.
func (p *Processor) syncUnenrolledList(ctx context.Context, email, courseURL string, active bool) bool {
	var unenrolled []string

	body, err := p.client.GetUser(ctx, email)
	switch {
	case err == nil:
		unenrolled = stringList(userVar(body, "unenrolled"))
	case sailthru.IsRetryableError(err):
		p.log.WithField("email", email).WithField("course_url", courseURL).
			Errorf("Error reading user vars from Sailthru: %v", err)
		return false
	default:
		if _, ok := sailthru.AsAPIError(err); !ok {
			// Transport failure: nothing to act on, redeliver.
			p.log.WithField("email", email).WithField("course_url", courseURL).
				Errorf("Error reading user vars from Sailthru: %v", err)
			return false
		}
		// Terminal read errors (typically unknown users) are tolerated: the
		// user simply has no list yet.
		p.log.WithField("email", email).WithField("course_url", courseURL).
			Errorf("Error reading user vars from Sailthru, assuming empty list: %v", err)
	}

	// Desired membership: enrolled users must be absent from the list,
	// unenrolled users present.
	present := contains(unenrolled, courseURL)
	if (active && !present) || (!active && present) {
		// Already matches: nothing to write.
		return true
	}

	var updated []string
	if active {
		// Re-enrollment: drop every occurrence, keeping the list order.
		for _, u := range unenrolled {
			if u != courseURL {
				updated = append(updated, u)
			}
		}
		if updated == nil {
			updated = []string{}
		}
	} else {
		updated = append(unenrolled, courseURL)
	}

	if err := p.client.UpdateUser(ctx, email, map[string]interface{}{"unenrolled": updated}); err != nil {
		// A failed write is never success, retryable or not.
		p.log.WithField("email", email).WithField("course_url", courseURL).
			Errorf("Error updating unenrolled list in Sailthru: %v", err)
		return false
	}
	return true
}

// userVar digs one var out of a user API response body.
func userVar(body map[string]interface{}, key string) interface{} {
	vars, ok := body["vars"].(map[string]interface{})
	if !ok {
		return nil
	}
	return vars[key]
}

// stringList converts a decoded JSON array to strings, dropping anything that
// is not a string.
func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
