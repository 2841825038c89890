package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	htmltemplate "html/template"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/heraldhq/herald/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Content is unrendered source material: subject, body and data values
// may carry {name} or {{name}} placeholder markers.
type Content struct {
	Subject string
	Body    string
	Data    map[string]string
}

// Rendered is the channel-ready output handed to a sender.
type Rendered struct {
	// Delivery identity, stamped by the worker before dispatch. Senders
	// that address beyond the recipient string (push topics, in-app
	// frames) rely on these.
	RecordID string
	TenantID string
	Priority domain.Priority

	Subject  string
	Body     string
	HTMLBody string // branded shell, email only
	Data     map[string]string
	FromName string // tenant display name
	FromAddr string // branding from address, may be empty
}

// Renderer substitutes context into content and wraps email bodies into
// the tenant-branded HTML shell.
type Renderer struct {
	emailShell *htmltemplate.Template
}

// NewRenderer creates a renderer and parses the embedded email shell.
func NewRenderer() (*Renderer, error) {
	titleCaser := cases.Title(language.English)
	funcMap := htmltemplate.FuncMap{
		"title": titleCaser.String,
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	content, err := templatesFS.ReadFile("templates/email_shell.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read email shell: %w", err)
	}
	shell, err := htmltemplate.New("email_shell").Funcs(funcMap).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse email shell: %w", err)
	}

	return &Renderer{emailShell: shell}, nil
}

// Render substitutes context into content for the channel. Email output
// additionally carries the branded HTML body. Rendering is deterministic:
// the same content and context always produce identical bytes.
func (r *Renderer) Render(channel domain.ChannelType, content Content, context map[string]any, branding domain.TenantBranding) (*Rendered, error) {
	rendered := &Rendered{
		Subject:  Substitute(content.Subject, context),
		Body:     Substitute(content.Body, context),
		FromName: branding.Name,
		FromAddr: branding.EmailFrom,
	}

	if len(content.Data) > 0 {
		rendered.Data = make(map[string]string, len(content.Data))
		for k, v := range content.Data {
			rendered.Data[k] = Substitute(v, context)
		}
	}

	if channel == domain.ChannelTypeEmail {
		htmlBody, err := r.renderEmailShell(rendered.Subject, rendered.Body, branding)
		if err != nil {
			return nil, fmt.Errorf("render email shell: %w", err)
		}
		rendered.HTMLBody = htmlBody
	}

	return rendered, nil
}

// emailShellData feeds the embedded HTML shell.
type emailShellData struct {
	Subject        string
	TenantName     string
	LogoURL        string
	PrimaryColor   string
	SecondaryColor string
	Body           htmltemplate.HTML
	About          string
}

// maxAboutRunes bounds the tenant blurb in the email footer.
const maxAboutRunes = 100

func (r *Renderer) renderEmailShell(subject, body string, branding domain.TenantBranding) (string, error) {
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")

	data := emailShellData{
		Subject:        subject,
		TenantName:     branding.Name,
		LogoURL:        branding.LogoURL,
		PrimaryColor:   branding.PrimaryColor,
		SecondaryColor: branding.SecondaryColor,
		Body:           htmltemplate.HTML(escaped),
		About:          truncateRunes(branding.About, maxAboutRunes),
	}

	var buf bytes.Buffer
	if err := r.emailShell.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// markerPattern matches {name} and {{name}} placeholder markers.
var markerPattern = regexp.MustCompile(`\{\{?\s*([a-zA-Z0-9_.]+)\s*\}?\}`)

// Substitute replaces placeholder markers with context values. Both
// {name} and {{name}} spellings address the same key; a marker whose key
// is absent stays in the output verbatim.
func Substitute(s string, context map[string]any) string {
	if s == "" || len(context) == 0 {
		return s
	}
	return markerPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := markerPattern.FindStringSubmatch(match)
		name := groups[1]
		value, ok := context[name]
		if !ok {
			return match
		}
		return formatValue(name, value)
	})
}

// formatValue stringifies a context value. ISO-8601 timestamps bound to a
// time-like placeholder are reformatted for humans.
func formatValue(name string, value any) string {
	s, isString := value.(string)
	if !isString {
		return fmt.Sprintf("%v", value)
	}
	if isTimePlaceholder(name) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC().Format("2006-01-02 15:04:05") + " UTC"
		}
	}
	return s
}

// isTimePlaceholder reports whether the placeholder conventionally holds
// a timestamp: names ending in _at, plus "timestamp" itself.
func isTimePlaceholder(name string) bool {
	return strings.HasSuffix(name, "_at") || name == "timestamp"
}

// truncateRunes shortens s to at most n runes, appending an ellipsis when
// anything was cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
