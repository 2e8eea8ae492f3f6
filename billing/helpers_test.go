package billing_test

import (
	"github.com/shopspring/decimal"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

func d(s string) generic.Date { return generic.MustParseDate(s) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func span(start, end string) billing.RentalSpan {
	return billing.NewSpan(d(start), d(end))
}

func insurer(id, start, end, amount string) billing.BillingPeriod {
	return billing.BillingPeriod{
		ID:            id,
		Start:         d(start),
		End:           d(end),
		Amount:        dec(amount),
		Payer:         billing.PayerInsurer,
		PaymentMethod: billing.MethodCNAM,
		InsurerLinkID: "bond-1",
	}
}

func cash(id, start, end, amount string) billing.BillingPeriod {
	return billing.BillingPeriod{
		ID:            id,
		Start:         d(start),
		End:           d(end),
		Amount:        dec(amount),
		Payer:         billing.PayerPatientCash,
		PaymentMethod: billing.MethodCash,
	}
}

func gapPeriod(id, start, end, amount string) billing.BillingPeriod {
	p := cash(id, start, end, amount)
	p.IsGapGenerated = true
	p.GapReason = billing.GapReasonCNAMPending
	return p
}
