package redact

import "strings"

// MaskEmail keeps the first character of the local part: "u***@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 1 {
		return "*@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
}

// MaskPhone keeps the last four digits: "***-***-1234".
func MaskPhone(phone string) string {
	d := digits(phone)
	if len(d) < 4 {
		return strings.Repeat("*", len(phone))
	}
	return "***-***-" + d[len(d)-4:]
}

// MaskCreditCard keeps the last four digits: "****-****-****-1234".
func MaskCreditCard(cc string) string {
	d := digits(cc)
	if len(d) < 4 {
		return strings.Repeat("*", len(cc))
	}
	return "****-****-****-" + d[len(d)-4:]
}

func digits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
