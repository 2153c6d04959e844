package verify

import (
	"bytes"
	"fmt"
	htmltpl "html/template"
	"text/template"

	"github.com/Masterminds/sprig"
)

type templates struct {
	address *template.Template
	subject *template.Template
	text    *template.Template
	html    *htmltpl.Template

	grantReason     *template.Template
	sentContent     *template.Template
	invalidIdentity *template.Template
}

// compileTemplates parses all the templates in the config. Mail text and
// HTML bodies are optional but at least one of them is required.
func compileTemplates(cfg Config) (*templates, error) {
	if cfg.Mail.Text == "" && cfg.Mail.HTML == "" {
		return nil, fmt.Errorf("one of mail.text or mail.html is required")
	}

	var (
		out = &templates{}
		err error
	)
	for _, t := range []struct {
		name string
		src  string
		dst  **template.Template
	}{
		{"address", cfg.Mail.Address, &out.address},
		{"subject", cfg.Mail.Subject, &out.subject},
		{"text", cfg.Mail.Text, &out.text},
		{"grant_reason", cfg.GrantReason, &out.grantReason},
		{"sent_content", cfg.Messages.SentContent, &out.sentContent},
		{"invalid_identity_content", cfg.Messages.InvalidIdentityContent, &out.invalidIdentity},
	} {
		if t.src == "" {
			continue
		}
		if *t.dst, err = template.New(t.name).Funcs(sprig.TxtFuncMap()).Parse(t.src); err != nil {
			return nil, fmt.Errorf("error parsing template %s: %v", t.name, err)
		}
	}

	if cfg.Mail.HTML != "" {
		out.html, err = htmltpl.New("html").Funcs(sprig.FuncMap()).Parse(cfg.Mail.HTML)
		if err != nil {
			return nil, fmt.Errorf("error parsing template html: %v", err)
		}
	}

	return out, nil
}

// execTxt executes a text template. A nil template yields an empty
// string.
func execTxt(t *template.Template, data interface{}) (string, error) {
	if t == nil {
		return "", nil
	}

	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func execHTML(t *htmltpl.Template, data interface{}) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
