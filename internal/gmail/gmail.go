package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nconklindev/draftmerge/internal/types"
)

// DefaultUser addresses the authenticated account.
const DefaultUser = "me"

// APIError is a draft request the Gmail API rejected.
type APIError struct {
	Code    int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Client creates drafts in one mailbox.
type Client struct {
	svc    *gmailapi.Service
	userID string
}

// NewClient builds a Client. opts carry the authenticated HTTP client or
// token source.
func NewClient(ctx context.Context, userID string, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	if userID == "" {
		userID = DefaultUser
	}
	return &Client{svc: svc, userID: userID}, nil
}

// CreateDraft stores d as a draft. Nothing is sent.
func (c *Client) CreateDraft(ctx context.Context, d types.Draft) error {
	raw := base64.RawURLEncoding.EncodeToString(BuildMessage(d))

	_, err := c.svc.Users.Drafts.Create(c.userID, &gmailapi.Draft{
		Message: &gmailapi.Message{Raw: raw},
	}).Context(ctx).Do()
	if err != nil {
		return wrapError(err)
	}
	return nil
}

func wrapError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	msg := gerr.Message
	if msg == "" {
		msg = fmt.Sprintf("Gmail API Error: %d", gerr.Code)
	}
	return &APIError{Code: gerr.Code, Message: msg, Err: err}
}

// BuildMessage renders d as an RFC 5322 message: a B-encoded subject, a
// plain-text UTF-8 body and CRLF line endings.
func BuildMessage(d types.Draft) []byte {
	var b strings.Builder

	if d.To != "" {
		header(&b, "To", d.To)
	}
	if len(d.Bcc) > 0 {
		header(&b, "Bcc", strings.Join(d.Bcc, ", "))
	}
	header(&b, "Subject", mime.BEncoding.Encode("utf-8", headerValue(d.Subject)))
	header(&b, "MIME-Version", "1.0")
	header(&b, "Content-Type", "text/plain; charset=UTF-8")
	header(&b, "Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(d.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return []byte(b.String())
}

func header(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(headerValue(value))
	b.WriteString("\r\n")
}

// headerValue keeps user text from starting a new header line.
func headerValue(s string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s)
}
