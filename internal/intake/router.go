package intake

import (
	"fmt"
	"strings"
	"time"

	"driver_intake/internal/registration"
	"driver_intake/internal/sheets"
)

// UnknownPolicy decides where a record with no detectable category goes.
type UnknownPolicy string

const (
	// UnknownIncomplete files it with the other incomplete contacts.
	UnknownIncomplete UnknownPolicy = "incomplete"
	// UnknownOthers files it in a dedicated "Others" sheet.
	UnknownOthers UnknownPolicy = "others"
	// UnknownHold never persists it; it stays in the conversation store only.
	UnknownHold UnknownPolicy = "hold"
)

// ParseUnknownPolicy validates a policy name. Empty means UnknownIncomplete.
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch p := UnknownPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return UnknownIncomplete, nil
	case UnknownIncomplete, UnknownOthers, UnknownHold:
		return p, nil
	default:
		return "", fmt.Errorf("unknown category policy %q: %w", s, registration.ErrConfig)
	}
}

// Routed is a record ready for the sink.
type Routed struct {
	Sheet  string
	Record registration.Record
	// Hold is set when policy forbids persisting the record.
	Hold bool
}

// Router picks the destination sheet and stamps the record.
type Router struct {
	policy UnknownPolicy
	loc    *time.Location
	now    func() time.Time
}

// NewRouter creates a router that stamps times in loc.
func NewRouter(policy UnknownPolicy, loc *time.Location) *Router {
	if policy == "" {
		policy = UnknownIncomplete
	}
	if loc == nil {
		loc = time.Local
	}
	return &Router{policy: policy, loc: loc, now: time.Now}
}

// Route returns the sheet for rec: its category sheet when complete, the
// incomplete bucket otherwise. Records without a category follow the policy.
func (r *Router) Route(rec registration.Record, complete bool) Routed {
	rec.RegisteredAt = r.now().In(r.loc)
	rec.Status = registration.StatusInProgress
	if complete {
		rec.Status = registration.StatusComplete
	}

	routed := Routed{Record: rec, Sheet: sheets.SheetIncomplete}
	switch {
	case rec.Category == registration.CategoryUnknown:
		switch r.policy {
		case UnknownOthers:
			routed.Sheet = sheets.SheetOthers
		case UnknownHold:
			routed.Sheet = ""
			routed.Hold = true
		}
	case complete && rec.Category == registration.CategoryTAC:
		routed.Sheet = sheets.SheetTAC
	case complete && rec.Category == registration.CategoryAggregate:
		routed.Sheet = sheets.SheetAggregate
	}
	return routed
}
