package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const region = "BR"

// FormatDial renders a canonical +55 number as the dial string expected by
// the outbound calling API. Modes mirror the config values: "international"
// (E.164), "national" (domestic with trunk zero) and "digits" (bare
// country + national digits). Unknown modes and unparseable input fall back
// to the canonical form.
func FormatDial(normalized string, mode string) string {
	switch mode {
	case "national":
		number, err := phonenumbers.Parse(normalized, region)
		if err != nil {
			return normalized
		}
		national := digitsOnly(phonenumbers.Format(number, phonenumbers.NATIONAL))
		return "0" + national
	case "digits":
		return strings.TrimPrefix(normalized, "+")
	default:
		return normalized
	}
}
