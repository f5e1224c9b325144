package sheets

import (
	"strings"
	"time"

	"github.com/xavierca1/lead-market/internal/entity"
)

// NormalizeHeader trims and lower-cases a column name and turns each space
// into an underscore: " First Name " -> "first_name". Runs of spaces are kept
// one for one; the normalized names are the contract with the inventory.
func NormalizeHeader(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func NormalizeHeaders(row []string) []string {
	out := make([]string, len(row))
	for i, h := range row {
		out[i] = NormalizeHeader(h)
	}
	return out
}

// columnAliases maps header spellings seen in the inventory to lead fields.
var columnAliases = map[string]string{
	"first_name":       "first_name",
	"firstname":        "first_name",
	"last_name":        "last_name",
	"lastname":         "last_name",
	"email":            "email",
	"email_address":    "email",
	"phone":            "phone",
	"phone_number":     "phone",
	"address":          "address",
	"street":           "address",
	"street_address":   "address",
	"city":             "city",
	"state":            "state",
	"zip":              "zip",
	"zip_code":         "zip",
	"postal_code":      "zip",
	"date_of_birth":    "date_of_birth",
	"dob":              "date_of_birth",
	"lead_id":          "external_id",
	"external_id":      "external_id",
	"external_lead_id": "external_id",
	"upload_date":      "upload_date",
}

// LeadFromRow maps one data row to a lead. Columns without a dedicated field
// land in Extra; blanks are dropped.
func LeadFromRow(key entity.LeadKey, header, row []string, now time.Time) entity.Lead {
	l := entity.Lead{LeadID: key.String(), Type: key.Type}
	for i, col := range header {
		if i >= len(row) || col == "" {
			continue
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		switch columnAliases[col] {
		case "first_name":
			l.FirstName = v
		case "last_name":
			l.LastName = v
		case "email":
			l.Email = v
		case "phone":
			l.Phone = v
		case "address":
			l.Address = v
		case "city":
			l.City = v
		case "state":
			l.State = v
		case "zip":
			l.Zip = v
		case "date_of_birth":
			l.DateOfBirth = v
		case "external_id":
			l.ExternalID = v
		case "upload_date":
			l.UploadDate = v
		default:
			if l.Extra == nil {
				l.Extra = map[string]string{}
			}
			l.Extra[col] = v
		}
	}
	l.AgeInDays = entity.AgeInDays(l.ExternalID, now)
	if l.UploadDate == "" {
		if t, ok := entity.ParseUploadDate(l.ExternalID); ok {
			l.UploadDate = t.Format("2006-01-02")
		}
	}
	return l
}

func rowIsEmpty(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ColumnLetter converts a zero-based column index to A1 notation.
func ColumnLetter(idx int) string {
	var b []byte
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// quoteTab wraps a tab title for use in an A1 range.
func quoteTab(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
