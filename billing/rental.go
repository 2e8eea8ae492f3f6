package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// Rental is the owning record of a period set, as kept by the store.
type Rental struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	PatientID       string          `json:"patient_id,omitempty"`
	DeviceName      string          `json:"device_name"`
	DeviceDailyRate decimal.Decimal `json:"device_daily_rate"`
	Accessories     []AccessoryLine `json:"accessories,omitempty"`
	Span            RentalSpan      `json:"span"`
	CreatedAt       time.Time       `json:"created_at"`
}

// DailyRate is the rate gap estimates are priced at.
func (r Rental) DailyRate() decimal.Decimal {
	return DailyRate(r.DeviceDailyRate, r.Accessories)
}

// Input assembles a reconciliation snapshot for this rental.
func (r Rental) Input(periods []BillingPeriod, now generic.Date) Input {
	return Input{
		Span:      r.Span,
		Periods:   periods,
		DailyRate: r.DailyRate(),
		Now:       now,
	}
}
