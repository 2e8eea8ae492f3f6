package api

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taha-yassine-romdhane/espace-iris-sub012/billing"
	"github.com/xuri/excelize/v2"
)

const (
	gapSheet   = "Gaps"
	issueSheet = "Issues"
	xlsxType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var gapHeadings = []string{
	"Gap", "Start", "End", "Days", "Position", "Severity", "Suggested reason", "Estimated amount", "Description",
}

var issueHeadings = []string{"Severity", "Kind", "Periods", "Message"}

// ExportGaps writes the rental's reconciliation as a workbook: one sheet of
// detected gaps with a total row, one of validation issues.
// GET /api/rentals/{id}/gaps.xlsx
func (h *Handler) ExportGaps(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}
	rentalID := chi.URLParam(r, "id")
	resp, err := h.Reconcile(r.Context(), rentalID, asOf)
	if err != nil {
		writeDomainError(w, "Failed to reconcile rental", err)
		return
	}

	f, err := gapWorkbook(resp.Report)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build workbook", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxType)
	// The rental ID comes from the URL; let mime quote whatever needs it.
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": fmt.Sprintf("gaps-%s-%s.xlsx", rentalID, asOf)}))
	if err := f.Write(w); err != nil {
		h.Logger.Error().Err(err).Str("rental_id", rentalID).Msg("write workbook")
	}
}

func gapWorkbook(rep billing.Report) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", gapSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(issueSheet); err != nil {
		return nil, err
	}

	rows := [][]any{toRow(gapHeadings)}
	for _, g := range rep.Gaps {
		amount, _ := g.EstimatedAmount.Round(2).Float64()
		rows = append(rows, []any{
			g.ID, g.Start.String(), g.End.String(), g.DurationDays, string(g.Position),
			string(g.Severity), g.SuggestedReason, amount, g.Description,
		})
	}
	total, _ := rep.Summary.Detected.EstimatedAmount.Round(2).Float64()
	rows = append(rows, []any{"Total", "", "", rep.Summary.Detected.Days, "", "", "", total, ""})
	if err := writeRows(f, gapSheet, rows); err != nil {
		return nil, err
	}

	rows = [][]any{toRow(issueHeadings)}
	for _, is := range rep.Issues {
		rows = append(rows, []any{string(is.Severity), string(is.Kind), strings.Join(is.PeriodIDs, ", "), is.Message})
	}
	if err := writeRows(f, issueSheet, rows); err != nil {
		return nil, err
	}
	return f, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func toRow(headings []string) []any {
	row := make([]any, len(headings))
	for i, h := range headings {
		row[i] = h
	}
	return row
}
