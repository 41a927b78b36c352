package alert

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
)

// Poster is the REST transport, satisfied by httpx.Client.
type Poster interface {
	PostJSON(ctx context.Context, url string, body, out any) error
}

// Slack posts to an incoming webhook. Attachments go inline as CSV code blocks.
type Slack struct {
	url  string
	http Poster
}

func NewSlack(webhookURL string, http Poster) *Slack {
	return &Slack{url: webhookURL, http: http}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *Slack) Notify(ctx context.Context, a Alert) error {
	var b strings.Builder
	icon := ":white_check_mark:"
	if a.Level == LevelError {
		icon = ":rotating_light:"
	}
	fmt.Fprintf(&b, "%s *%s*\n%s", icon, a.Title, a.Text)
	if a.ID != "" {
		fmt.Fprintf(&b, "\n_attempt %s_", a.ID)
	}

	for _, att := range a.Attachments {
		body, err := renderCSV(att)
		if err != nil {
			return fmt.Errorf("render %s: %w", att.Name, err)
		}
		fmt.Fprintf(&b, "\n*%s*\n```\n%s```", att.Name, body)
	}

	if err := s.http.PostJSON(ctx, s.url, slackMessage{Text: b.String()}, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func renderCSV(att Attachment) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(att.Header) > 0 {
		if err := w.Write(att.Header); err != nil {
			return "", err
		}
	}
	if err := w.WriteAll(att.Rows); err != nil {
		return "", err
	}
	return buf.String(), nil
}
