package mailer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Publisher is the broker surface the poller pushes parsed requests to.
type Publisher interface {
	Publish(ctx context.Context, payload any) error
}

// Config holds mailbox coordinates and polling cadence.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Folder   string
	// Sender is the address price-request mails come from; everything else
	// in the mailbox is ignored.
	Sender string

	PollInterval time.Duration
	MaxBackoff   time.Duration
}

// Poller watches one IMAP folder for unseen price-request mails, parses the
// template and publishes each hit to the broker.
type Poller struct {
	cfg       Config
	publisher Publisher
	logger    ectologger.Logger

	client *imapclient.Client
}

func NewPoller(cfg Config, publisher Publisher, logger ectologger.Logger) *Poller {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Poller{cfg: cfg, publisher: publisher, logger: logger}
}

// Run polls until ctx is done, reconnecting with bounded backoff after
// failures. NOOPs between polls keep the connection warm.
func (p *Poller) Run(ctx context.Context) error {
	backoff := p.cfg.PollInterval

	for {
		if err := p.ensureConnected(ctx); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warnf("Mail connection failed, retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.cfg.MaxBackoff)
			continue
		}
		backoff = p.cfg.PollInterval

		if err := p.poll(ctx); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Mail poll failed, reconnecting")
			p.disconnect()
			continue
		}

		select {
		case <-ctx.Done():
			p.disconnect()
			return ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}

		if p.client != nil {
			if err := p.client.Noop(); err != nil {
				p.logger.WithContext(ctx).WithError(err).Debug("NOOP failed, reconnecting")
				p.disconnect()
			}
		}
	}
}

func (p *Poller) ensureConnected(ctx context.Context) error {
	if p.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to dial imap server: %w", err)
	}
	client.Timeout = 30 * time.Second

	if err := client.Login(p.cfg.User, p.cfg.Password); err != nil {
		client.Logout()
		return fmt.Errorf("imap login failed: %w", err)
	}
	if _, err := client.Select(p.cfg.Folder, false); err != nil {
		client.Logout()
		return fmt.Errorf("failed to select folder %s: %w", p.cfg.Folder, err)
	}

	p.client = client
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"host":   p.cfg.Host,
		"folder": p.cfg.Folder,
	}).Info("Mail connection established")
	return nil
}

func (p *Poller) disconnect() {
	if p.client != nil {
		_ = p.client.Logout()
		p.client = nil
	}
}

// poll handles one SEARCH-fetch-publish round.
func (p *Poller) poll(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "Mailer.Poll")
	defer span.End()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("From", p.cfg.Sender)

	ids, err := p.client.Search(criteria)
	if err != nil {
		return fmt.Errorf("imap search failed: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, len(ids))
	if err := p.client.Fetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope}, messages); err != nil {
		return fmt.Errorf("imap fetch failed: %w", err)
	}

	var handled imap.SeqSet
	for msg := range messages {
		if err := p.handleMessage(ctx, msg, section); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Skipping unparseable mail")
			continue
		}
		handled.AddNum(msg.SeqNum)
	}

	if handled.Empty() {
		return nil
	}

	// Everything published gets marked read so the next search skips it.
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := p.client.Store(&handled, item, []any{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark mails seen: %w", err)
	}
	return nil
}

func (p *Poller) handleMessage(ctx context.Context, msg *imap.Message, section *imap.BodySectionName) error {
	body := msg.GetBody(section)
	if body == nil {
		return fmt.Errorf("message %d has no body", msg.SeqNum)
	}

	text, err := extractText(body)
	if err != nil {
		return err
	}

	req, err := ParseTemplate(text)
	if err != nil {
		return err
	}
	req.MessageID = uuid.NewString()

	if err := p.publisher.Publish(ctx, req); err != nil {
		return fmt.Errorf("failed to publish price request: %w", err)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id": req.MessageID,
		"product_id": req.ProductID,
	}).Info("Published price request from mail")
	return nil
}

// extractText prefers a text/plain part and falls back to stripped HTML.
func extractText(body io.Reader) (string, error) {
	reader, err := mail.CreateReader(body)
	if err != nil {
		return "", fmt.Errorf("failed to read mail: %w", err)
	}

	var html string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to walk mail parts: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		raw, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			return string(raw), nil
		case strings.HasPrefix(contentType, "text/html"):
			html = string(raw)
		}
	}

	if html != "" {
		return StripHTML(html), nil
	}
	return "", fmt.Errorf("mail has no text part")
}
