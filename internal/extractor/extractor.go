package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Row is one best-effort extracted record, keyed by column label.
type Row map[string]string

// Extractor turns unstructured bytes (PDF, image) into rows via an
// external vision/OCR service. Extraction is inherently lossy; callers
// degrade failures to warnings instead of aborting the upload.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) ([]Row, error)
}

// HTTPExtractor calls a JSON extraction endpoint with retries.
type HTTPExtractor struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPExtractor(url string, timeoutSec int) *HTTPExtractor {
	timeout := time.Duration(timeoutSec) * time.Second
	return &HTTPExtractor{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type extractRequest struct {
	Content  string `json:"content"` // base64
	MimeType string `json:"mime_type"`
}

type extractResponse struct {
	Rows []Row `json:"rows"`
}

// Extract posts the document to the extraction service. Transient
// failures are retried with exponential backoff until the configured
// timeout elapses.
func (e *HTTPExtractor) Extract(ctx context.Context, data []byte, mimeType string) ([]Row, error) {
	if e.url == "" {
		return nil, errors.New("no extraction service configured")
	}

	payload, err := json.Marshal(extractRequest{
		Content:  base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	})
	if err != nil {
		return nil, err
	}

	var rows []Row
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("extraction service returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("extraction service returned %d", resp.StatusCode))
		}

		var out extractResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(errors.Wrap(err, "decoding extraction response"))
		}
		rows = out.Rows
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.timeout
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		logrus.WithError(err).Warn("unstructured extraction failed")
		return nil, err
	}

	return rows, nil
}
