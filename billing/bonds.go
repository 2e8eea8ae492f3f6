package billing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// COVERAGE BONDS (CNAM)
// =============================================================================

type BondStatus string

const (
	BondPending  BondStatus = "PENDING"
	BondApproved BondStatus = "APPROVED"
	BondActive   BondStatus = "ACTIVE"
	BondExpired  BondStatus = "EXPIRED"
	BondRejected BondStatus = "REJECTED"
)

// CoverageBond is an insurer coverage agreement. Insurer periods point at one
// through InsurerLinkID. Its approval workflow is tracked elsewhere; this
// package only reads Status.
type CoverageBond struct {
	ID            string          `json:"id"`
	RentalID      string          `json:"rental_id"`
	BondNumber    string          `json:"bond_number"`
	BondType      string          `json:"bond_type,omitempty"`
	Start         generic.Date    `json:"start_date"`
	End           *generic.Date   `json:"end_date,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CoveredMonths int             `json:"covered_months"`
	Status        BondStatus      `json:"status"`
}

// =============================================================================
// EXPIRY ALERTS
// =============================================================================

type AlertSeverity string

const (
	AlertCritical AlertSeverity = "CRITICAL"
	AlertHigh     AlertSeverity = "HIGH"
	AlertMedium   AlertSeverity = "MEDIUM"
)

// DefaultBondAlertWindowDays is how far ahead expiring bonds are reported.
const DefaultBondAlertWindowDays = 30

// BondAlert warns that a bond stops covering the rental soon.
type BondAlert struct {
	BondID        string        `json:"bond_id"`
	RentalID      string        `json:"rental_id"`
	BondNumber    string        `json:"bond_number"`
	EndDate       generic.Date  `json:"end_date"`
	DaysRemaining int           `json:"days_remaining"`
	Severity      AlertSeverity `json:"severity"`
	Message       string        `json:"message"`
}

// BondAlerts returns the bonds ending within windowDays of now, most urgent
// first. Bonds without an end date, already past it, or rejected are skipped.
func BondAlerts(bonds []CoverageBond, now generic.Date, windowDays int) []BondAlert {
	alerts := []BondAlert{}
	for _, b := range bonds {
		if b.End == nil || b.End.IsZero() || b.Status == BondRejected {
			continue
		}
		remaining := generic.DaysBetween(now, *b.End)
		if remaining < 0 || remaining > windowDays {
			continue
		}
		alerts = append(alerts, BondAlert{
			BondID:        b.ID,
			RentalID:      b.RentalID,
			BondNumber:    b.BondNumber,
			EndDate:       *b.End,
			DaysRemaining: remaining,
			Severity:      alertSeverity(remaining),
			Message:       fmt.Sprintf("CNAM bond %s expires in %d day(s) on %s", b.BondNumber, remaining, *b.End),
		})
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].DaysRemaining != alerts[j].DaysRemaining {
			return alerts[i].DaysRemaining < alerts[j].DaysRemaining
		}
		return alerts[i].BondID < alerts[j].BondID
	})
	return alerts
}

func alertSeverity(daysRemaining int) AlertSeverity {
	switch {
	case daysRemaining <= 7:
		return AlertCritical
	case daysRemaining <= 15:
		return AlertHigh
	default:
		return AlertMedium
	}
}
