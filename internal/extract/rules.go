package extract

import (
	"regexp"
	"strings"

	"driver_intake/internal/registration"
)

const (
	nationalIDCore = `\d{3}\.?\d{3}\.?\d{3}-?\d{2}`
	phoneCore      = `(?:\+?55[ \t]?)?\(?\d{2}\)?[ \t]?\d{4,5}-?\d{4}`

	// Free text runs: letters, blanks, apostrophes, dots and hyphens. Commas,
	// semicolons and line breaks end a value.
	freeText = `([\p{L}][\p{L} \t'’.\-]*)`
)

var (
	nameRE = regexp.MustCompile(`(?i)(?:\b(?:my name is|i['’]?m called|i am called|me chamo|sou [oa])\b|` +
		`\bmeu nome [ée]|\b(?:name|nome)\s*[:\-])\s*` + freeText)
	cityRE = regexp.MustCompile(`(?i)(?:\b(?:city|cidade|based in|i live in|moro em)\b|\bbase\s*:)\s*[:\-]?\s*` + freeText)

	labeledNationalIDRE = regexp.MustCompile(`(?i)\b(?:cpf|national id|id)\b\s*[:\-#]?\s*(` + nationalIDCore + `)`)
	bareNationalIDRE    = regexp.MustCompile(`(?:^|\D)(` + nationalIDCore + `)(?:\D|$)`)

	labeledPhoneRE = regexp.MustCompile(`(?i)\b(?:phone|telefone|fone|tel|cel|celular|whatsapp)\b\s*[:\-]?\s*(` + phoneCore + `)`)
	barePhoneRE    = regexp.MustCompile(`(?:^|\D)(` + phoneCore + `)(?:\D|$)`)
	senderPhoneRE  = regexp.MustCompile(`^\+?[\d\s\-().]+$`)

	plateRE  = regexp.MustCompile(`(?i)\b([a-z]{3}\d[a-z0-9]\d{2})\b`)
	courseRE = regexp.MustCompile(`(?i)(?:course completed|curso conclu[ií]do)\??[ \t]*(?:\([^)\n]*\))?[ \t]*[:\-]?[ \t]*(yes|no|sim|n[ãa]o)\b`)

	// Any label or category keyword ends a free-text value.
	labelRE = regexp.MustCompile(`(?i)\b(?:cpf|national id|id|phone|telefone|fone|tel|cel|celular|whatsapp|` +
		`city|cidade|based in|moro em|plate|placa|course|curso|name|nome|tac|company vehicle|aggregate|` +
		`agregado|own vehicle|ve[ií]culo)\b`)
)

// Rules is the extraction table, one entry per extracted field. Category is
// not listed here: the Classifier owns it.
var Rules = []Rule{
	{Field: registration.FieldName, Extract: ExtractName},
	{Field: registration.FieldNationalID, Extract: ExtractNationalID},
	{Field: registration.FieldPhone, Extract: ExtractPhone},
	{Field: registration.FieldCity, Extract: ExtractCity},
	{Field: registration.FieldLicensePlate, Extract: ExtractLicensePlate},
	{Field: registration.FieldCourseCompleted, Extract: ExtractCourseCompleted},
}

// ExtractName returns the text after a name lead-in ("my name is", "me chamo", ...).
func ExtractName(text string) string {
	return firstFreeText(nameRE, text)
}

// ExtractCity returns the text after a city lead-in ("city", "based in", "moro em", ...).
func ExtractCity(text string) string {
	return firstFreeText(cityRE, text)
}

// ExtractNationalID returns the 11 CPF digits. A labeled value wins over the
// first bare 11-digit token.
func ExtractNationalID(text string) string {
	return registration.Digits(labeledOrBare(labeledNationalIDRE, bareNationalIDRE, text))
}

// ExtractPhone returns the national phone digits. A labeled value wins over
// the first bare phone-shaped token.
func ExtractPhone(text string) string {
	return registration.NormalizePhone(labeledOrBare(labeledPhoneRE, barePhoneRE, text))
}

// ExtractLicensePlate returns a LLL9A99 plate in upper case.
func ExtractLicensePlate(text string) string {
	m := plateRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// ExtractCourseCompleted returns "Yes" or "No" for the course answer.
func ExtractCourseCompleted(text string) string {
	m := courseRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return registration.ParseCourse(m[1])
}

// SenderPhone returns the national digits of a sender identifier when it looks like a
// phone number (a chat header title such as "+55 11 91234-5678"). Display
// names yield "".
func SenderPhone(sender string) string {
	sender = strings.TrimSpace(sender)
	if sender == "" || !senderPhoneRE.MatchString(sender) {
		return ""
	}
	digits := registration.Digits(sender)
	if len(digits) < 10 {
		return ""
	}
	return registration.NormalizePhone(digits)
}

func labeledOrBare(labeled, bare *regexp.Regexp, text string) string {
	if m := labeled.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := bare.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// firstFreeText returns the first lead-in capture that survives truncation at
// the next field label.
func firstFreeText(re *regexp.Regexp, text string) string {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if v := cutAtLabel(m[1]); v != "" {
			return v
		}
	}
	return ""
}

func cutAtLabel(value string) string {
	if loc := labelRE.FindStringIndex(value); loc != nil {
		value = value[:loc[0]]
	}
	return strings.Trim(value, " \t.-'’")
}
