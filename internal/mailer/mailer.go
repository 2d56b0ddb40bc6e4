// Package mailer delivers award notifications through a
// SendGrid-compatible mail API. Delivery is best effort; issuance never
// blocks on it.
package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config carries the mail API settings.
type Config struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// Mailer posts award emails to the configured mail API.
type Mailer struct {
	cfg  Config
	http *http.Client
}

// New builds a Mailer. An empty BaseURL returns an error so callers
// decide up front whether email is wired at all.
func New(cfg Config) (*Mailer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("mailer: base url required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mailer: from address required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Mailer{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Award describes one "you earned a badge" notification.
type Award struct {
	To          string
	Recipient   string
	BadgeName   string
	DownloadURL string
	BadgePNG    []byte
}

var awardTemplate = template.Must(template.New("award").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hi {{.Recipient}},</p>
<p>You just earned the <strong>{{.BadgeName}}</strong> badge.</p>
<p><img src="cid:badgeimg_cid" alt="{{.BadgeName}}"></p>
<p><a href="{{.DownloadURL}}">Download your backpack</a></p>
</body>
</html>
`))

// wire types for the /v3/mail/send payload.
type mailSend struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
	Attachments      []attachment      `json:"attachments,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type address struct {
	Email string `json:"email"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type attachment struct {
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	Filename    string `json:"filename"`
	Disposition string `json:"disposition,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
}

// SendAward delivers the notification for one fresh assertion. The badge
// image rides along twice: inline for the HTML body and as a plain
// attachment the recipient can keep.
func (m *Mailer) SendAward(ctx context.Context, award Award) error {
	if strings.TrimSpace(award.To) == "" {
		return errors.New("mailer: recipient email required")
	}

	var body bytes.Buffer
	if err := awardTemplate.Execute(&body, award); err != nil {
		return fmt.Errorf("mailer: render body: %w", err)
	}

	msg := mailSend{
		Personalizations: []personalization{{To: []address{{Email: award.To}}}},
		From:             address{Email: m.cfg.From},
		Subject:          "You earned a new badge!",
		Content:          []content{{Type: "text/html", Value: body.String()}},
	}
	if len(award.BadgePNG) > 0 {
		b64 := base64.StdEncoding.EncodeToString(award.BadgePNG)
		msg.Attachments = []attachment{
			{Content: b64, Type: "image/png", Filename: "badge.png", Disposition: "inline", ContentID: "badgeimg_cid"},
			{Content: b64, Type: "image/png", Filename: "badge.png"},
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mailer: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("mailer: mail api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
