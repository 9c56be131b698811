package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"jobdigest/internal/models"
)

var digestTemplate = template.Must(template.New("digest").Parse(`<html>
<body>
<p>Hallo,</p>
<p>hier sind {{len .Postings}} neue Stellenangebote f&uuml;r deine Suche &quot;{{.Keyword}}&quot; in {{.Location}}:</p>
<table border="1" cellpadding="6" cellspacing="0">
<tr><th>Titel</th><th>Ort</th><th>Art</th></tr>
{{range .Postings}}<tr><td>{{.Title}}</td><td>{{.Location}}</td><td>{{.EmploymentType}}</td></tr>
{{end}}</table>
<p>Viel Erfolg bei der Bewerbung!</p>
</body>
</html>`))

type digestData struct {
	Keyword  string
	Location string
	Postings []models.RawPosting
}

// renderDigest builds the subject and HTML body for a subscriber's digest.
func renderDigest(sub models.Subscriber, postings []models.RawPosting) (subject, body string, err error) {
	var buf bytes.Buffer
	err = digestTemplate.Execute(&buf, digestData{
		Keyword:  sub.Keyword,
		Location: sub.Location,
		Postings: postings,
	})
	if err != nil {
		return "", "", fmt.Errorf("render digest: %w", err)
	}

	subject = fmt.Sprintf("%d neue Jobs: %s in %s", len(postings), sub.Keyword, sub.Location)
	return subject, buf.String(), nil
}
