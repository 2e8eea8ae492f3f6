package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/taha-yassine-romdhane/espace-iris-sub012/generic"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// JSON
// =============================================================================

// ReadJSON decodes an array of legacy records, the shape of the cleaned
// rental-periods export. Numbers are kept as json.Number so amounts never go
// through float64.
func ReadJSON(r io.Reader) ([]LegacyRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []LegacyRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode legacy records: %w", err)
	}
	return records, nil
}

// =============================================================================
// XLSX
// =============================================================================

// Header aliases, normalized by normalizeHeader. French labels are the ones
// used by the back-office templates.
var columnAliases = map[string]string{
	"id":                "id",
	"periodid":          "id",
	"rentalid":          "rentalId",
	"location":          "rentalId",
	"startdate":         "startDate",
	"datededebut":       "startDate",
	"debut":             "startDate",
	"enddate":           "endDate",
	"datedefin":         "endDate",
	"fin":               "endDate",
	"amount":            "amount",
	"montant":           "amount",
	"paymentmethod":     "paymentMethod",
	"methodedepaiement": "paymentMethod",
	"isgapperiod":       "isGapPeriod",
	"gap":               "isGapPeriod",
	"gapamount":         "gapAmount",
	"montantgap":        "gapAmount",
	"paymentstatus":     "paymentStatus",
	"statut":            "paymentStatus",
	"gapreason":         "gapReason",
	"notes":             "notes",
	"periodnumber":      "periodNumber",
	"cnambondid":        "cnamBondId",
	"bondid":            "cnamBondId",
}

var parenthesized = regexp.MustCompile(`\(.*?\)`)

func normalizeHeader(h string) string {
	h = parenthesized.ReplaceAllString(h, "")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(
		"é", "e", "è", "e", "ê", "e", "à", "a", "ç", "c",
		" ", "", "_", "", "-", "", ".", "",
	).Replace(h)
	return h
}

// ReadXLSX reads legacy records from the first sheet of a workbook. The first
// row is the header; columns are matched by name, unknown columns ignored and
// blank rows skipped. Date cells may hold text or Excel serial numbers.
func ReadXLSX(r io.Reader) ([]LegacyRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	columns := make(map[string]int)
	for i, h := range rows[0] {
		if field, ok := columnAliases[normalizeHeader(h)]; ok {
			if _, seen := columns[field]; !seen {
				columns[field] = i
			}
		}
	}
	for _, required := range []string{"id", "rentalId", "startDate", "endDate", "amount"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("sheet %s: column %q: %w", sheets[0], required, generic.ErrMissingField)
		}
	}

	var records []LegacyRecord
	for n, row := range rows[1:] {
		cell := func(field string) string {
			i, ok := columns[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if isBlank(row) {
			continue
		}

		rec := LegacyRecord{
			ID:            cell("id"),
			RentalID:      cell("rentalId"),
			StartDate:     excelDate(cell("startDate")),
			EndDate:       excelDate(cell("endDate")),
			PaymentMethod: optional(cell("paymentMethod")),
			PaymentStatus: optional(cell("paymentStatus")),
			GapReason:     optional(cell("gapReason")),
			Notes:         optional(cell("notes")),
			CNAMBondID:    optional(cell("cnamBondId")),
		}
		if v := cell("amount"); v != "" {
			rec.Amount = v
		}
		if v := cell("gapAmount"); v != "" {
			rec.GapAmount = v
		}
		if v := cell("isGapPeriod"); v != "" {
			b := truthy(v)
			rec.IsGapPeriod = &b
		}
		if v := cell("periodNumber"); v != "" {
			num, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("row %d: period number %q: %w", n+2, v, err)
			}
			rec.PeriodNumber = &num
		}
		records = append(records, rec)
	}
	return records, nil
}

// excelDate converts an Excel serial day number to ISO form and leaves any
// other text for generic.ParseDate.
func excelDate(v string) string {
	serial, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return v
	}
	return generic.DateOf(t).String()
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "oui", "x":
		return true
	}
	return false
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
