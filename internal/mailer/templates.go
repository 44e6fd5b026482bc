package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"
)

const (
	DefaultSubjectTemplate = `Обращение #{{.Ref}}: {{.Classification}} ({{.Organization}})`
	DefaultBodyTemplate    = `Новое обращение #{{.Ref}} от {{.Created}}
Организация: {{.Organization}}
Филиал: {{.Branch}}
Классификация: {{.Classification}}
Тип: {{if .Anonymous}}анонимное{{else}}не анонимное, автор {{.AuthorEmail}}{{end}}
{{if not .Anonymous}}Telegram: {{.TelegramID}}{{if .Username}} (@{{.Username}}){{end}}
{{end}}
{{.Message}}
{{if .Files}}
Вложения:{{range .Files}}
- {{.}}{{end}}{{end}}`
)

var htmlBody = htmltemplate.Must(htmltemplate.New("ticket").Parse(`<html><body>
<h3>{{.Subject}}</h3>
<pre style="font-family: sans-serif; white-space: pre-wrap">{{.Text}}</pre>
</body></html>`))

// TicketData: поля, доступные в шаблонах темы и тела.
type TicketData struct {
	ID             uint
	Ref            string // id тикета или имя папки у старых обращений
	CreatedAt      time.Time
	Organization   string
	Branch         string
	Classification string
	Anonymous      bool
	AuthorEmail    string
	TelegramID     int64
	Username       string
	Message        string
	Files          []string
}

func (d TicketData) Created() string {
	return d.CreatedAt.Format("02.01.2006 15:04")
}

// Rendered: готовое письмо.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Render собирает письмо по шаблонам из настроек. Пустой шаблон = дефолтный.
func Render(subjectTpl, bodyTpl string, data TicketData) (Rendered, error) {
	if strings.TrimSpace(subjectTpl) == "" {
		subjectTpl = DefaultSubjectTemplate
	}
	if strings.TrimSpace(bodyTpl) == "" {
		bodyTpl = DefaultBodyTemplate
	}
	subject, err := execText("subject", subjectTpl, data)
	if err != nil {
		return Rendered{}, err
	}
	text, err := execText("body", bodyTpl, data)
	if err != nil {
		return Rendered{}, err
	}
	subject = strings.Join(strings.Fields(subject), " ")

	var html bytes.Buffer
	if err := htmlBody.Execute(&html, struct{ Subject, Text string }{subject, text}); err != nil {
		return Rendered{}, fmt.Errorf("render html body: %w", err)
	}
	return Rendered{Subject: subject, Text: text, HTML: html.String()}, nil
}

func execText(name, tpl string, data TicketData) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// ValidateTemplate: проверка шаблона перед сохранением из админки.
func ValidateTemplate(tpl string) error {
	_, err := execText("check", tpl, TicketData{CreatedAt: time.Now()})
	return err
}
