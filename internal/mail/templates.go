package mail

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl"))
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl"))
)

type InvitationEmail struct {
	To           string
	InviterName  string
	PropertyName string
	Roles        []string
	Link         string
	ExpiresAt    time.Time
}

type DeclinedEmail struct {
	To           string
	InviteeEmail string
	PropertyName string
	Reason       string
}

func InvitationMessage(d InvitationEmail) (Message, error) {
	data := struct {
		InvitationEmail
		Roles string
	}{d, strings.Join(d.Roles, ", ")}
	subject := "You have been invited"
	if d.PropertyName != "" {
		subject += " to " + d.PropertyName
	}
	return render("invitation", d.To, subject, data)
}

func DeclinedMessage(d DeclinedEmail) (Message, error) {
	return render("invitation_declined", d.To, "Invitation declined", d)
}

func render(name, to, subject string, data any) (Message, error) {
	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, name+".txt.tmpl", data); err != nil {
		return Message{}, err
	}
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html.tmpl", data); err != nil {
		return Message{}, err
	}
	return Message{To: []string{to}, Subject: subject, Text: text.String(), HTML: html.String(), Tag: name}, nil
}
