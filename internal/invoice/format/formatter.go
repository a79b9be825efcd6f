package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/fieldops/internal/period"
)

const DefaultInvoiceNumberFormat = "INV-{SEQ6}"

// InvoiceNumber renders an invoice number from a template, the settlement
// week being billed and the next counter value.
//
// Tokens: {YYYY} and {YY} are the ISO week-numbering year, so week 1 billed
// in late December carries the new year. {MM} and {DD} are the month and
// day of the week's Sunday. {WW} is the two digit week. {SEQ} is the bare
// counter and {SEQn} pads it to n digits. The template must contain one
// sequence token so numbers stay unique.
func InvoiceNumber(template string, week period.Week, seq int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	var (
		b       strings.Builder
		hasSeq  bool
		pending = template
	)
	for {
		open := strings.IndexByte(pending, '{')
		if open < 0 {
			if strings.IndexByte(pending, '}') >= 0 {
				return "", fmt.Errorf("unbalanced brace in invoice number template %q", template)
			}
			b.WriteString(pending)
			break
		}
		if strings.IndexByte(pending[:open], '}') >= 0 {
			return "", fmt.Errorf("unbalanced brace in invoice number template %q", template)
		}
		b.WriteString(pending[:open])
		end := strings.IndexByte(pending[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("unbalanced brace in invoice number template %q", template)
		}
		token := pending[open+1 : open+end]
		pending = pending[open+end+1:]

		value, isSeq, err := expand(token, week, seq)
		if err != nil {
			return "", fmt.Errorf("invoice number template %q: %w", template, err)
		}
		hasSeq = hasSeq || isSeq
		b.WriteString(value)
	}
	if !hasSeq {
		return "", fmt.Errorf("invoice number template %q has no sequence token", template)
	}
	return b.String(), nil
}

func expand(token string, week period.Week, seq int64) (string, bool, error) {
	switch token {
	case "YYYY":
		return fmt.Sprintf("%04d", week.Year), false, nil
	case "YY":
		return fmt.Sprintf("%02d", week.Year%100), false, nil
	case "MM":
		return week.Start.Format("01"), false, nil
	case "DD":
		return week.Start.Format("02"), false, nil
	case "WW":
		return fmt.Sprintf("%02d", week.Week), false, nil
	case "SEQ":
		return strconv.FormatInt(seq, 10), true, nil
	}
	if digits, ok := strings.CutPrefix(token, "SEQ"); ok {
		width, err := strconv.Atoi(digits)
		if err != nil || width <= 0 || width > 18 {
			return "", false, fmt.Errorf("invalid sequence width %q", digits)
		}
		return fmt.Sprintf("%0*d", width, seq), true, nil
	}
	return "", false, fmt.Errorf("unknown token {%s}", token)
}
