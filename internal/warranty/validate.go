package warranty

import (
	"strings"
	"time"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/model"
)

const dateLayout = "2006-01-02"

// parseDate accepts a calendar date (YYYY-MM-DD, UTC midnight) or an RFC 3339 timestamp
func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.Invalid("invalid "+field+" format, expected YYYY-MM-DD or RFC 3339", field)
}

// ParseStatusFilter parses a list filter. Empty and "all" mean no filter.
func ParseStatusFilter(value string) (*model.Status, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "all" {
		return nil, nil
	}
	status := model.Status(value)
	if !status.Valid() {
		return nil, apperr.Invalid(statusHint(value), "status")
	}
	return &status, nil
}

// statusHint names the accepted values after an unknown status
func statusHint(value string) string {
	names := make([]string, 0, len(model.Statuses)+1)
	for _, st := range model.Statuses {
		names = append(names, string(st))
	}
	names = append(names, "all")
	return "unknown status " + value + ", expected one of " + strings.Join(names, ", ")
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func blankPtr(s *string) bool {
	return s == nil || blank(*s)
}

// optional turns an empty string into nil
func optional(s string) *string {
	if blank(s) {
		return nil
	}
	return &s
}

func (d Draft) missingFields() []string {
	required := []struct {
		name  string
		value string
	}{
		{"customerName", d.CustomerName},
		{"customerPhone", d.CustomerPhone},
		{"address", d.Address},
		{"brand", d.Brand},
		{"model", d.Model},
		{"serial", d.Serial},
		{"purchaseDate", d.PurchaseDate},
		{"invoiceNumber", d.InvoiceNumber},
		{"damagedPart", d.DamagedPart},
		{"damageDate", d.DamageDate},
		{"damageDescription", d.DamageDescription},
		{"customerSignature", d.CustomerSignature},
	}
	var missing []string
	for _, f := range required {
		if blank(f.value) {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// missingResolutionFields lists the seller-side fields a non-pending claim must carry
func missingResolutionFields(c model.Claim) []string {
	var missing []string
	if blankPtr(c.CreditMemo) {
		missing = append(missing, "creditMemo")
	}
	if blankPtr(c.ReplacementPart) {
		missing = append(missing, "replacementPart")
	}
	if c.ManagementDate == nil {
		missing = append(missing, "managementDate")
	}
	if blankPtr(c.SellerSignature) {
		missing = append(missing, "sellerSignature")
	}
	return missing
}
