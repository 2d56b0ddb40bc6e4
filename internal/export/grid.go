package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"openbackpack.org/internal/badge"
)

// pageSize is the number of cards per rendered page; short pages are
// padded with placeholder cells so every page keeps the 3x3 layout.
const pageSize = 9

const placeholderImageURL = "https://static.openbackpack.org/assets/empty.png"

type gridCard struct {
	Placeholder bool
	Name        string
	ImageURL    string
	Points      int
	Course      string
	IssuedOn    string
	UID         string
	VerifyURL   string
	StatusBand  string // "", "expired" or "revoked"
}

type gridPage struct {
	Cards []gridCard
}

type gridData struct {
	Username     string
	Points       int
	DownloadedOn string
	Pages        []gridPage
}

var gridTemplate = template.Must(template.New("grid").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Backpack</title></head>
<body>
<div class="header"><span class="username">{{.Username}}</span>
<span class="downloaded">{{.DownloadedOn}}</span>
<span class="points">{{.Points}}pts</span></div>
{{range $i, $page := .Pages}}{{if $i}}<div style="page-break-before: always;"></div>{{end}}
<div class="grid">
{{range $page.Cards}}{{if .Placeholder}}<div class="card placeholder"><img src="{{.ImageURL}}" alt=""></div>
{{else}}<a href="{{.VerifyURL}}"><div class="card">
{{if .StatusBand}}<div class="status-band {{.StatusBand}}">{{.StatusBand}}</div>{{end}}
<div class="point-band">{{.Points}} pts</div>
<img src="{{.ImageURL}}" alt="{{.Name}}">
<h2>{{.Name}}</h2>
<p>Course: {{.Course}}</p>
<p>Date: {{.IssuedOn}}</p>
<p>UID: {{.UID}}</p>
</div></a>
{{end}}{{end}}
</div>
{{end}}
</body>
</html>
`))

// GridHTML lays the backpack out as paginated card markup for the
// rendering service.
func GridHTML(records []badge.BadgeRecord, username string, points int, downloadedOn time.Time) (string, error) {
	cards := make([]gridCard, 0, len(records))
	for _, rec := range records {
		cards = append(cards, gridCard{
			Name:       rec.Name,
			ImageURL:   rec.ImageURL,
			Points:     rec.Assertion.Points,
			Course:     rec.Course.Name,
			IssuedOn:   rec.Assertion.IssuedOn,
			UID:        rec.Assertion.UID,
			VerifyURL:  rec.Assertion.Verify.URL,
			StatusBand: statusBand(rec),
		})
	}
	for len(cards) == 0 || len(cards)%pageSize != 0 {
		cards = append(cards, gridCard{Placeholder: true, ImageURL: placeholderImageURL})
	}

	data := gridData{
		Username:     username,
		Points:       points,
		DownloadedOn: downloadedOn.UTC().Format("2 January 2006 at 15:04"),
	}
	for i := 0; i < len(cards); i += pageSize {
		data.Pages = append(data.Pages, gridPage{Cards: cards[i : i+pageSize]})
	}

	var buf bytes.Buffer
	if err := gridTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("export: render grid: %w", err)
	}
	return buf.String(), nil
}

// statusBand picks the card ribbon from the authoritative revocation
// fields, never from the nested assertion cache.
func statusBand(rec badge.BadgeRecord) string {
	switch {
	case rec.RevokedReason == badge.ReasonExpired:
		return "expired"
	case rec.RevokedReason != badge.ReasonPlaceholder:
		return "revoked"
	default:
		return ""
	}
}
