package enrollsync

import "github.com/shopspring/decimal"

// Enrollment modes known to the decision table. Other modes are accepted and
// treated as plain paid purchases.
const (
	ModeAudit        = "audit"
	ModeHonor        = "honor"
	ModeVerified     = "verified"
	ModeCredit       = "credit"
	ModeProfessional = "professional"
)

// Event is one course commerce event (enrollment, upgrade or purchase) as
// delivered on the queue. It is constructed once per delivery and never
// persisted by the worker.
type Event struct {
	Email     string          `json:"email"`
	CourseURL string          `json:"course_url"`
	CourseID  string          `json:"course_id"`
	Mode      string          `json:"mode"`
	// Active marks an in-progress cart add; false means the purchase (or
	// unenrollment) completed.
	Active    bool            `json:"is_active"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Currency  string          `json:"currency"`
	MessageID string          `json:"message_id"`
	SiteCode  string          `json:"site_code,omitempty"`
}

// PriceCents converts the unit cost to integer minor currency units with
// exact decimal rounding, so e.g. 99.01 becomes 9901 rather than 9900.
func (e Event) PriceCents() int64 {
	return e.UnitCost.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
