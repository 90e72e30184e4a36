package ledger

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultPhoneRegion is used to parse walk-in phone numbers written
// without a country code.
const DefaultPhoneRegion = "US"

// normalizePhone returns the E.164 form of a walk-in customer's phone.
// An empty input stays empty.
func normalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if region == "" {
		region = DefaultPhoneRegion
	}

	p, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", invalid("customer_phone", "cannot parse %q: %v", raw, err)
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", invalid("customer_phone", "%q is not a valid number for region %s", raw, region)
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}
