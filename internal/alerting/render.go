package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"alertcpl/internal/storage"
)

// Dialect is the markup syntax the transport interprets.
type Dialect string

const (
	DialectPlain      Dialect = "plain"
	DialectHTML       Dialect = "html"
	DialectMarkdownV2 Dialect = "markdownv2"
)

// ParseDialect maps a config value onto a Dialect; unknown values fall back to plain.
func ParseDialect(raw string) Dialect {
	switch Dialect(strings.ToLower(strings.TrimSpace(raw))) {
	case DialectHTML:
		return DialectHTML
	case DialectMarkdownV2:
		return DialectMarkdownV2
	default:
		return DialectPlain
	}
}

// Message carries the structured fields of an incident notification.
type Message struct {
	Kind         storage.AlertKind
	AccountName  string
	CampaignName string
	AdSetName    string
	AdName       string
	Spend        decimal.Decimal
	Leads        int64
	CPL          decimal.Decimal
	Threshold    decimal.Decimal
}

var (
	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

	markdownV2Escaper = func() *strings.Replacer {
		const special = "\\_*[]()~`>#+-=|{}.!"
		pairs := make([]string, 0, len(special)*2)
		for _, r := range special {
			pairs = append(pairs, string(r), "\\"+string(r))
		}
		return strings.NewReplacer(pairs...)
	}()
)

// Escape neutralises markup characters in text for the dialect.
func Escape(text string, dialect Dialect) string {
	switch dialect {
	case DialectHTML:
		return htmlEscaper.Replace(text)
	case DialectMarkdownV2:
		return markdownV2Escaper.Replace(text)
	default:
		return text
	}
}

// Render formats msg for the dialect. Every field value is escaped, so names
// coming from the ads platform cannot inject formatting.
func Render(msg Message, dialect Dialect) string {
	cpl := "N/A"
	if msg.Kind != storage.AlertZeroLeadsHighSpend {
		cpl = money(msg.CPL)
	}

	fields := [][2]string{
		{"Account", msg.AccountName},
		{"Campaign", msg.CampaignName},
		{"Ad Set", msg.AdSetName},
		{"Ad", msg.AdName},
		{"", ""},
		{"CPL", cpl},
		{"Threshold", money(msg.Threshold)},
		{"Spend", money(msg.Spend)},
		{"Leads", fmt.Sprintf("%d", msg.Leads)},
	}

	var b strings.Builder
	b.WriteString(title(msg.Kind, dialect))
	b.WriteString("\n\n")
	for _, f := range fields {
		label, value := f[0], f[1]
		if label == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(line(label, value, dialect))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func title(kind storage.AlertKind, dialect Dialect) string {
	text := "🚨 AlertCPL Warning!"
	switch kind {
	case storage.AlertZeroLeadsHighSpend:
		text = "🚨 AlertCPL Warning! Spend without leads"
	case storage.AlertHighCostPerLead:
		text = "🚨 AlertCPL Warning! CPL above threshold"
	}

	escaped := Escape(text, dialect)
	switch dialect {
	case DialectHTML:
		return "<b>" + escaped + "</b>"
	case DialectMarkdownV2:
		return "*" + escaped + "*"
	default:
		return text
	}
}

func line(label, value string, dialect Dialect) string {
	escaped := Escape(value, dialect)
	switch dialect {
	case DialectHTML:
		return "<b>" + label + ":</b> " + escaped
	case DialectMarkdownV2:
		return "*" + Escape(label, dialect) + ":* " + escaped
	default:
		return label + ": " + escaped
	}
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
