package mailer

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/Jedidiah5/past-time/internal/capsule"
)

// Subject returns the subject line for an unlocked capsule.
func Subject(cp capsule.Capsule) string {
	return fmt.Sprintf("Your Time Capsule Has Unlocked: %q", cp.Title)
}

var bodyTmpl = template.Must(template.New("capsule").Parse(`<h1>Your time capsule is here!</h1>
<p>On {{.CreatedAt}}, you sent yourself a message titled "<strong>{{.Title}}</strong>".</p>
<p>Here it is:</p>
<div style="padding: 20px; border: 1px solid #eee; border-radius: 5px; background: #f9f9f9;">
  <p>{{.Body}}</p>
</div>
<br/>
<p>We hope you enjoyed this message from your past self!</p>
<p>- The PastTime Team</p>
`))

// RenderBody renders the HTML body for an unlocked capsule. Title and
// body are escaped by html/template.
func RenderBody(cp capsule.Capsule) (string, error) {
	var b strings.Builder
	err := bodyTmpl.Execute(&b, struct {
		CreatedAt string
		Title     string
		Body      string
	}{
		CreatedAt: cp.CreatedAt.Format("January 2, 2006"),
		Title:     cp.Title,
		Body:      cp.Body,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
