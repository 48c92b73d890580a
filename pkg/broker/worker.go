package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/siterequest"
)

// SiteRequestWorker turns broker messages into calls against the
// site-request endpoint. Keeping the hop over HTTP means the worker and the
// API share one code path and one transaction story.
type SiteRequestWorker struct {
	client   *httpclient.Client
	endpoint string
	logger   ectologger.Logger
}

func NewSiteRequestWorker(client *httpclient.Client, endpoint string, logger ectologger.Logger) *SiteRequestWorker {
	return &SiteRequestWorker{
		client:   client,
		endpoint: endpoint,
		logger:   logger,
	}
}

// Handle decodes one price-request message and replays it against the
// endpoint. Errors bubble to the consumer's retry machinery.
func (w *SiteRequestWorker) Handle(ctx context.Context, body []byte) error {
	var req siterequest.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("failed to decode price request: %w", err)
	}
	if req.Phone == "" || req.ProductID == 0 {
		return fmt.Errorf("price request missing phone or product id")
	}

	query := url.Values{}
	query.Set("phone", req.Phone)
	query.Set("product_id", strconv.FormatInt(req.ProductID, 10))
	if req.ProductName != "" {
		query.Set("product_name", req.ProductName)
	}
	if req.Name != "" {
		query.Set("name", req.Name)
	}
	if req.Comment != "" {
		query.Set("comment", req.Comment)
	}
	if req.MessageID != "" {
		query.Set("message_id", req.MessageID)
	}

	resp, err := w.client.Get(ctx, w.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("site request endpoint answered %d", resp.StatusCode)
	}

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id": req.MessageID,
	}).Info("Price request handed to site request endpoint")
	return nil
}
