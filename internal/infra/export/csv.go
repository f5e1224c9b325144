// Package export renders order snapshots for delivery to the buyer.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/xavierca1/lead-market/internal/entity"
)

var baseColumns = []string{
	"lead_id", "lead_type", "first_name", "last_name", "email", "phone",
	"address", "city", "state", "zip", "date_of_birth", "external_id",
	"upload_date", "age_in_days", "tier",
}

// Filename is the attachment name for an order's export.
func Filename(orderID string) string {
	return fmt.Sprintf("leads-%s.csv", orderID)
}

// WriteLeadsCSV writes one row per lead. Extra columns found on any lead are
// appended after the fixed ones in name order; leads without them get blanks.
func WriteLeadsCSV(w io.Writer, leads []entity.Lead) error {
	extras := extraColumns(leads)

	cw := csv.NewWriter(w)
	header := append(append([]string(nil), baseColumns...), extras...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, l := range leads {
		row := []string{
			l.LeadID, string(l.Type), l.FirstName, l.LastName, l.Email, l.Phone,
			l.Address, l.City, l.State, l.Zip, l.DateOfBirth, l.ExternalID,
			l.UploadDate, strconv.Itoa(l.AgeInDays), entity.TierFromAge(l.AgeInDays).String(),
		}
		for _, col := range extras {
			row = append(row, l.Extra[col])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func extraColumns(leads []entity.Lead) []string {
	seen := map[string]struct{}{}
	for _, l := range leads {
		for k := range l.Extra {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
