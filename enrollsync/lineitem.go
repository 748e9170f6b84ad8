package enrollsync

import (
	"github.com/courseops/commerce-sync/sailthru"
)

// Sailthru schedules abandoned cart reminders relative to the cart add.
const reminderDelay = "+60 minutes"

// buildLineItem computes the normalized purchase line-item for an event from
// the cached course content and the user's profile vars. Pure: no remote
// calls, no mutation of its inputs.
func buildLineItem(ev Event, content, userVars map[string]interface{}) sailthru.PurchaseItem {
	item := sailthru.PurchaseItem{
		ID:    ev.CourseID + "-" + ev.Mode,
		URL:   ev.CourseURL,
		Price: ev.PriceCents(),
		Qty:   1,
	}

	if title, ok := content["title"].(string); ok && title != "" {
		item.Title = title
	} else {
		item.Title = "Course " + ev.CourseID + " mode: " + ev.Mode
	}
	if tags, ok := content["tags"].(string); ok {
		item.Tags = tags
	}

	vars := map[string]interface{}{}
	if contentVars, ok := content["vars"].(map[string]interface{}); ok {
		for k, v := range contentVars {
			vars[k] = v
		}
	}
	// A deadline stored on the user's profile is specific to them and beats
	// the content-level default.
	deadlineKey := "upgrade_deadline_" + ev.Mode
	if deadline, ok := userVars[deadlineKey]; ok {
		vars[deadlineKey] = deadline
	}
	vars["course_run_id"] = ev.CourseID
	vars["mode"] = ev.Mode
	item.Vars = vars

	return item
}

// The four messaging scenarios. Which one applies decides the template and
// whether the purchase is submitted as an incomplete cart.
type scenario int

const (
	cartReminder scenario = iota
	enrollComplete
	purchaseComplete
	upgradeComplete
)

// classify maps an event onto a messaging scenario.
func classify(active bool, mode string) scenario {
	switch {
	case active:
		return cartReminder
	case mode == ModeVerified:
		return upgradeComplete
	case mode == ModeAudit || mode == ModeHonor:
		return enrollComplete
	default:
		return purchaseComplete
	}
}

// completionTemplate keeps the send-template outcomes in one auditable table.
// Site-specific template overrides are already merged into Templates by
// SiteSettings.Resolve.
var completionTemplate = map[scenario]func(Templates) string{
	enrollComplete:   func(t Templates) string { return t.Enroll },
	purchaseComplete: func(t Templates) string { return t.Purchase },
	upgradeComplete:  func(t Templates) string { return t.Upgrade },
}

// selectOptions returns the purchase submission options for an event and
// whether the submission is marked incomplete (a cart add rather than a
// completed purchase).
func selectOptions(active bool, mode string, cfg SiteConfig) (sailthru.PurchaseOptions, bool) {
	sc := classify(active, mode)
	if sc == cartReminder {
		return sailthru.PurchaseOptions{
			ReminderTemplate: cfg.Templates.AbandonedCart,
			ReminderTime:     reminderDelay,
		}, true
	}
	return sailthru.PurchaseOptions{
		SendTemplate: completionTemplate[sc](cfg.Templates),
	}, false
}
