package render

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const invoiceHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Invoice {{.Number}}</title>
  <style>
    :root { --primary: {{.PrimaryColor}}; }
    body { margin: 0; padding: 40px; font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .invoice-card { background: #fff; max-width: 760px; margin: 0 auto; padding: 60px; border-radius: 4px; }
    .header { display: flex; justify-content: space-between; margin-bottom: 40px; }
    .header h1 { margin: 0; font-size: 24px; color: var(--primary); }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; font-weight: 600; }
    .amount-large { font-size: 32px; font-weight: 700; margin: 4px 0 40px; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 30px; }
    th { text-align: left; font-size: 11px; text-transform: uppercase; color: #8792a2; border-bottom: 1px solid #e3e8ee; padding: 10px 0; }
    td { padding: 14px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; vertical-align: top; }
    .td-right { text-align: right; }
    .item-sub { font-size: 12px; color: #697386; }
  </style>
</head>
<body>
  <div class="invoice-card">
    <div class="header">
      <h1>{{.CompanyName}}</h1>
      <div>
        <div class="label">Invoice</div>
        <div>{{.Number}}</div>
        <div class="item-sub">{{.Status}}</div>
      </div>
    </div>

    <div class="label">Period</div>
    <div>Week {{.Week}}, {{.Year}} ({{formatDate .PeriodStart}} to {{formatDate .PeriodEnd}})</div>

    <div class="label" style="margin-top: 24px;">Amount due</div>
    <div class="amount-large">{{formatMoney .Total}}</div>

    <table>
      <thead>
        <tr>
          <th style="width: 60%;">Task</th>
          <th>Completed</th>
          <th class="td-right">Amount</th>
        </tr>
      </thead>
      <tbody>
        {{range .Lines}}
        <tr>
          <td>
            <div>{{.Title}}</div>
            {{if .Address}}<div class="item-sub">{{.Address}}</div>{{end}}
          </td>
          <td>{{formatDate .CompletedAt}}</td>
          <td class="td-right">{{formatMoney .Amount}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="td-right"><span class="label">Total</span> {{formatMoney .Total}} ({{len .Lines}} tasks)</div>
  </div>
</body>
</html>
`

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Line is one billed task.
type Line struct {
	Title       string
	Address     string
	CompletedAt time.Time
	Amount      decimal.Decimal
}

type Input struct {
	CompanyName  string
	PrimaryColor string
	Number       string
	Status       string
	Week         int
	Year         int
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Total        decimal.Decimal
	Lines        []Line
}

type Renderer interface {
	RenderHTML(input Input) (string, error)
}

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatMoney": formatMoney,
		"formatDate":  formatDate,
	}
	return &HTMLRenderer{
		tpl: template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceHTMLTemplate)),
	}
}

func (r *HTMLRenderer) RenderHTML(input Input) (string, error) {
	input.PrimaryColor = sanitizeColor(input.PrimaryColor)
	if strings.TrimSpace(input.CompanyName) == "" {
		input.CompanyName = "Invoice"
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, input); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatMoney(amount decimal.Decimal) string {
	return "USD " + amount.StringFixed(2)
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.Format("2006-01-02")
}

func sanitizeColor(value string) string {
	trimmed := strings.TrimSpace(value)
	if hexColorPattern.MatchString(trimmed) {
		return trimmed
	}
	return "#111827"
}
