package entity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedLeadKey = errors.New("malformed lead key")

// LeadType is the inventory category a lead belongs to. Each type lives in its
// own tab of the inventory store.
type LeadType string

const (
	LeadTypeMortgageProtection LeadType = "mortgage_protection"
	LeadTypeFinalExpense       LeadType = "final_expense"
	LeadTypeVeteranLife        LeadType = "veteran_life"
	LeadTypeAnnuity            LeadType = "annuity"
	LeadTypeMedicare           LeadType = "medicare"
	LeadTypeIUL                LeadType = "iul"
	LeadTypeLife               LeadType = "life"
)

// leadTypes is the parse order for lead keys. An entry must never be a prefix
// of an entry that comes after it, otherwise the shorter name would capture
// keys of the longer one. checkLeadTypeOrder enforces this at init.
var leadTypes = []LeadType{
	LeadTypeMortgageProtection,
	LeadTypeFinalExpense,
	LeadTypeVeteranLife,
	LeadTypeAnnuity,
	LeadTypeMedicare,
	LeadTypeIUL,
	LeadTypeLife,
}

func init() {
	if err := checkLeadTypeOrder(leadTypes); err != nil {
		panic(err)
	}
}

func checkLeadTypeOrder(types []LeadType) error {
	for i, earlier := range types {
		for _, later := range types[i+1:] {
			if strings.HasPrefix(string(later), string(earlier)) {
				return fmt.Errorf("lead type %q must be listed before %q", later, earlier)
			}
		}
	}
	return nil
}

// LeadTypes returns the known lead types in parse order.
func LeadTypes() []LeadType {
	out := make([]LeadType, len(leadTypes))
	copy(out, leadTypes)
	return out
}

func (t LeadType) Valid() bool {
	for _, lt := range leadTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// LeadKey addresses one lead: its type and a 1-based ordinal into the data
// rows of that type's tab (the header row is not counted).
type LeadKey struct {
	Type   LeadType
	Offset uint32
}

func NewLeadKey(t LeadType, offset uint32) LeadKey {
	return LeadKey{Type: t, Offset: offset}
}

func (k LeadKey) String() string {
	return fmt.Sprintf("%s_%d", k.Type, k.Offset)
}

// SheetRow is the store's native row number for this lead: one for the header
// and one because the store counts rows from 1.
func (k LeadKey) SheetRow() int {
	return int(k.Offset) + 2
}

// OffsetFromSheetRow is the inverse of SheetRow.
func OffsetFromSheetRow(row int) (uint32, bool) {
	if row < 3 {
		return 0, false
	}
	return uint32(row - 2), true
}

type LeadKeyParseError struct {
	Input  string
	Reason string
}

func (e *LeadKeyParseError) Error() string {
	return fmt.Sprintf("lead key %q: %s", e.Input, e.Reason)
}

func (e *LeadKeyParseError) Unwrap() error { return ErrMalformedLeadKey }

// ParseLeadKey parses the "{type}_{offset}" form.
func ParseLeadKey(s string) (LeadKey, error) {
	s = strings.TrimSpace(s)
	for _, t := range leadTypes {
		prefix := string(t) + "_"
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		raw := s[len(prefix):]
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return LeadKey{}, &LeadKeyParseError{Input: s, Reason: "offset is not a number"}
		}
		if n == 0 {
			return LeadKey{}, &LeadKeyParseError{Input: s, Reason: "offset must be >= 1"}
		}
		return LeadKey{Type: t, Offset: uint32(n)}, nil
	}
	return LeadKey{}, &LeadKeyParseError{Input: s, Reason: "unknown lead type"}
}

// ParseLeadKeys parses every key, failing on the first malformed one.
func ParseLeadKeys(raw []string) ([]LeadKey, error) {
	keys := make([]LeadKey, 0, len(raw))
	for _, s := range raw {
		k, err := ParseLeadKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Lead is a copy of one inventory row taken at fetch time.
type Lead struct {
	LeadID      string            `json:"lead_id"`
	Type        LeadType          `json:"lead_type"`
	ExternalID  string            `json:"external_id,omitempty"`
	FirstName   string            `json:"first_name,omitempty"`
	LastName    string            `json:"last_name,omitempty"`
	Email       string            `json:"email,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Address     string            `json:"address,omitempty"`
	City        string            `json:"city,omitempty"`
	State       string            `json:"state,omitempty"`
	Zip         string            `json:"zip,omitempty"`
	DateOfBirth string            `json:"date_of_birth,omitempty"`
	UploadDate  string            `json:"upload_date,omitempty"`
	AgeInDays   int               `json:"age_in_days"`
	Extra       map[string]string `json:"extra,omitempty"`
}

func (l Lead) Key() (LeadKey, error) {
	return ParseLeadKey(l.LeadID)
}

// systemFields are bookkeeping columns that never belong in an order snapshot.
var systemFields = map[string]struct{}{
	"id":           {},
	"_id":          {},
	"created_at":   {},
	"updated_at":   {},
	"cart_item_id": {},
	"session_id":   {},
	"user_id":      {},
	"status":       {},
}

// StripSystemFields returns a copy without internal ids, timestamps and the
// per-tier sold markers.
func (l Lead) StripSystemFields() Lead {
	out := l
	if len(l.Extra) == 0 {
		out.Extra = nil
		return out
	}
	out.Extra = make(map[string]string, len(l.Extra))
	for k, v := range l.Extra {
		if _, skip := systemFields[k]; skip {
			continue
		}
		if IsSoldColumn(k) {
			continue
		}
		out.Extra[k] = v
	}
	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

const uploadDateLayout = "20060102"

// ParseUploadDate extracts the 8-digit YYYYMMDD token that prefixes an
// external lead id ("20240115-8812", "20240115_x").
func ParseUploadDate(externalID string) (time.Time, bool) {
	externalID = strings.TrimSpace(externalID)
	token := externalID
	if i := strings.IndexAny(externalID, "-_"); i >= 0 {
		token = externalID[:i]
	}
	if len(token) != 8 {
		return time.Time{}, false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}
	t, err := time.Parse(uploadDateLayout, token)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AgeInDays is the number of whole days between the upload date embedded in
// externalID and now. Anything unparseable, or a date in the future, is 0.
func AgeInDays(externalID string, now time.Time) int {
	uploaded, ok := ParseUploadDate(externalID)
	if !ok {
		return 0
	}
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if uploaded.After(today) {
		return 0
	}
	return int(today.Sub(uploaded).Hours() / 24)
}
