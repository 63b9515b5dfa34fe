package whatsapp

import "strings"

const userServer = "s.whatsapp.net"

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone reduces a phone number to international digits. A leading "00" is
// dropped and a leading trunk "0" is replaced with defaultCountryCode.
func NormalizePhone(phone, defaultCountryCode string) string {
	d := digitsOnly(phone)
	if strings.HasPrefix(d, "00") {
		return d[2:]
	}
	if strings.HasPrefix(d, "0") {
		return digitsOnly(defaultCountryCode) + d[1:]
	}
	return d
}

// JoinCountryCode builds the international number for a national number and its
// country code, e.g. ("+58", "04121234567") -> "584121234567".
func JoinCountryCode(countryCode, phone string) string {
	cc := digitsOnly(countryCode)
	d := strings.TrimLeft(digitsOnly(phone), "0")
	if cc == "" || (strings.HasPrefix(d, cc) && len(d) > 10) {
		return d
	}
	return cc + d
}

// PhoneToJID converts a phone number to the transport address. Values that already
// carry a server part are returned unchanged.
func PhoneToJID(phone, defaultCountryCode string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return NormalizePhone(phone, defaultCountryCode) + "@" + userServer
}
