package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type Client struct {
	service          *gmail.Service
	processedLabel   string
	processedLabelID string
}

// Attachment is a PDF pulled out of a message, plus enough metadata to report
// progress and order the batch.
type Attachment struct {
	MessageID  string
	Filename   string
	Data       []byte
	ReceivedAt time.Time
}

// Setup builds a client from the cached token. It returns ErrAuthRequired
// when no token is cached yet; run Authorize first in that case.
func Setup(ctx context.Context, credentialsFile, tokenFile, processedLabel string) (*Client, error) {
	config, err := oauthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}

	token, err := loadToken(tokenFile)
	if err != nil {
		return nil, ErrAuthRequired
	}
	if !token.Valid() && token.RefreshToken == "" {
		return nil, &AuthError{Err: fmt.Errorf("cached token expired and has no refresh token")}
	}

	oauthClient := config.Client(ctx, token)
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauthClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	c := &Client{service: srv, processedLabel: processedLabel}
	if err := c.ensureLabel(); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureLabel resolves the processed label's ID, creating the label on first
// use so re-runs can filter it out.
func (c *Client) ensureLabel() error {
	list, err := c.service.Users.Labels.List("me").Do()
	if err != nil {
		return classify(fmt.Errorf("listing labels: %w", err))
	}
	for _, label := range list.Labels {
		if label.Name == c.processedLabel {
			c.processedLabelID = label.Id
			return nil
		}
	}

	created, err := c.service.Users.Labels.Create("me", &gmail.Label{
		Name:                  c.processedLabel,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Do()
	if err != nil {
		return classify(fmt.Errorf("creating label %s: %w", c.processedLabel, err))
	}
	c.processedLabelID = created.Id
	return nil
}

// Fetch lists messages matching the query that do not yet carry the processed
// label and downloads their PDF attachments, oldest message first. Messages
// already labeled are never re-yielded, which makes the fetch idempotent
// across runs.
func (c *Client) Fetch(ctx context.Context, query string) ([]Attachment, error) {
	full := searchQuery(query, c.processedLabel)

	var ids []string
	pageToken := ""
	for {
		call := c.service.Users.Messages.List("me").Q(full).MaxResults(500)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, classify(fmt.Errorf("listing messages: %w", err))
		}
		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	var attachments []Attachment
	for _, id := range ids {
		atts, err := c.fetchMessage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching message %s: %w", id, err)
		}
		attachments = append(attachments, atts...)
	}

	sort.SliceStable(attachments, func(i, j int) bool {
		return attachments[i].ReceivedAt.Before(attachments[j].ReceivedAt)
	})
	return attachments, nil
}

// MarkProcessed labels the message so it is skipped on every later run. Called
// after the message's attachments are handled, even when handling failed, so
// a broken message is not retried forever.
func (c *Client) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := c.service.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{c.processedLabelID},
	}).Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("labeling message %s: %w", messageID, err))
	}
	return nil
}

func (c *Client) fetchMessage(ctx context.Context, messageID string) ([]Attachment, error) {
	msg, err := c.service.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	received := time.UnixMilli(msg.InternalDate)

	var attachments []Attachment
	for _, part := range collectParts(msg.Payload) {
		if part.Filename == "" || part.Body == nil || part.Body.AttachmentId == "" {
			continue
		}
		if !isPDF(part) {
			continue
		}
		att, err := c.service.Users.Messages.Attachments.Get("me", messageID, part.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			return nil, classify(fmt.Errorf("downloading %s: %w", part.Filename, err))
		}
		data, err := base64.URLEncoding.DecodeString(att.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", part.Filename, err)
		}
		attachments = append(attachments, Attachment{
			MessageID:  messageID,
			Filename:   part.Filename,
			Data:       data,
			ReceivedAt: received,
		})
	}
	return attachments, nil
}

// collectParts flattens the MIME tree; multipart messages nest arbitrarily.
// searchQuery narrows the user's query to messages that do not yet carry
// the processed label, so already-handled messages are never re-yielded.
func searchQuery(query, processedLabel string) string {
	return fmt.Sprintf("%s -label:%s", query, processedLabel)
}

func collectParts(part *gmail.MessagePart) []*gmail.MessagePart {
	if part == nil {
		return nil
	}
	parts := []*gmail.MessagePart{part}
	for _, p := range part.Parts {
		parts = append(parts, collectParts(p)...)
	}
	return parts
}

func isPDF(part *gmail.MessagePart) bool {
	if strings.EqualFold(part.MimeType, "application/pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(part.Filename), ".pdf")
}
