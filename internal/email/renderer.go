// Package email renders digest messages into provider-ready subject and
// body content. Rendering is pure: the same inputs always produce the
// same output, so retried deliveries regenerate identical emails.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"dailybrief/internal/types"
)

// RenderedDigest is the provider-ready output of one render pass.
type RenderedDigest struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// RenderInput carries everything a digest render needs. LocalDate is the
// recipient's calendar date the digest covers, in YYYY-MM-DD form.
type RenderInput struct {
	DisplayName string
	DigestType  types.DigestType
	LocalDate   string
	Articles    []types.Article
	TrackingURL string // base URL for open/click tracking; empty disables tracking markup
	LedgerID    string
}

const htmlTemplateSrc = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h1 style="font-size: 20px;">{{.Heading}}</h1>
  <p>{{.Greeting}}</p>
  {{range .Articles}}
  <div style="margin-bottom: 16px;">
    <h2 style="font-size: 16px; margin-bottom: 4px;">
      <a href="{{.URL}}">{{.Title}}</a>
    </h2>
    <p style="margin: 0; color: #444;">{{.Summary}}</p>
  </div>
  {{end}}
  {{if .PixelURL}}<img src="{{.PixelURL}}" width="1" height="1" alt="">{{end}}
</body>
</html>`

const textTemplateSrc = `{{.Heading}}

{{.Greeting}}

{{range .Articles}}* {{.Title}}
  {{.Summary}}
  {{.URL}}

{{end}}`

var (
	htmlTmpl = template.Must(template.New("digest_html").Parse(htmlTemplateSrc))
	textTmpl = texttemplate.Must(texttemplate.New("digest_text").Parse(textTemplateSrc))
)

// templateData is the flattened view passed into both templates.
type templateData struct {
	Heading  string
	Greeting string
	Articles []articleView
	PixelURL string
}

type articleView struct {
	Title   string
	Summary string
	URL     string
}

// Render produces the subject and both body variants for a digest.
// Returns an error only on template execution failure; an empty article
// list is the caller's responsibility to reject before rendering.
func Render(in RenderInput) (*RenderedDigest, error) {
	data := templateData{
		Heading:  heading(in),
		Greeting: greeting(in.DisplayName),
	}
	for _, a := range in.Articles {
		data.Articles = append(data.Articles, articleView{
			Title:   a.Title,
			Summary: a.Summary,
			URL:     clickURL(in, a.URL),
		})
	}
	if in.TrackingURL != "" && in.LedgerID != "" {
		data.PixelURL = strings.TrimSuffix(in.TrackingURL, "/") + "/v1/track/open/" + in.LedgerID
	}

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render digest html", err)
	}

	var textBuf bytes.Buffer
	if err := textTmpl.Execute(&textBuf, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render digest text", err)
	}

	return &RenderedDigest{
		Subject:  Subject(in.DigestType, in.LocalDate),
		BodyHTML: htmlBuf.String(),
		BodyText: textBuf.String(),
	}, nil
}

// Subject builds the digest subject line from the type and the
// recipient-local date.
func Subject(digestType types.DigestType, localDate string) string {
	pretty := localDate
	if t, err := time.Parse("2006-01-02", localDate); err == nil {
		pretty = t.Format("Jan 2")
	}
	switch digestType {
	case types.DigestBreaking:
		return fmt.Sprintf("Breaking: your update for %s", pretty)
	default:
		return fmt.Sprintf("Your daily brief for %s", pretty)
	}
}

func heading(in RenderInput) string {
	if in.DigestType == types.DigestBreaking {
		return "Breaking update"
	}
	return "Your daily brief"
}

func greeting(displayName string) string {
	if displayName == "" {
		return "Here is what you missed."
	}
	return fmt.Sprintf("Hi %s, here is what you missed.", displayName)
}

// clickURL wraps an article URL in the click-tracking redirect when
// tracking is enabled, otherwise returns the URL untouched.
func clickURL(in RenderInput, target string) string {
	if in.TrackingURL == "" || in.LedgerID == "" {
		return target
	}
	return strings.TrimSuffix(in.TrackingURL, "/") + "/v1/track/click/" + in.LedgerID + "?to=" + template.URLQueryEscaper(target)
}
