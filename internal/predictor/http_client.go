package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// HTTPClient posts images to a configured prediction URL.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewHTTPClient builds a client for endpoint. A zero timeout keeps the
// transport default (no deadline).
func NewHTTPClient(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.Named("predictor"),
	}
}

// Endpoint returns the configured prediction URL.
func (c *HTTPClient) Endpoint() string { return c.endpoint }

// Predict issues exactly one POST and decodes the answer. It never retries.
func (c *HTTPClient) Predict(ctx context.Context, upload Upload) (*Prediction, error) {
	body, contentType, err := encodeUpload(upload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("prediction request failed", zap.Error(err), zap.String("endpoint", c.endpoint))
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read prediction response: %w", err)
	}
	c.logger.Debug("prediction response",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("latency", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return Decode(raw)
}

// Decode parses a response body strictly: every field present, no extra
// fields, confidence within [0,1].
func Decode(raw []byte) (*Prediction, error) {
	var shape struct {
		Confidence *float64 `json:"confidence"`
		Prediction *string  `json:"prediction"`
		Status     *string  `json:"status"`
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&shape); err != nil {
		return nil, &MalformedError{Body: string(raw), Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MalformedError{Body: string(raw), Err: errors.New("trailing data after json object")}
	}

	switch {
	case shape.Confidence == nil:
		return nil, &MalformedError{Body: string(raw), Err: errors.New("missing confidence")}
	case shape.Prediction == nil:
		return nil, &MalformedError{Body: string(raw), Err: errors.New("missing prediction")}
	case shape.Status == nil:
		return nil, &MalformedError{Body: string(raw), Err: errors.New("missing status")}
	case *shape.Confidence < 0 || *shape.Confidence > 1:
		return nil, &MalformedError{Body: string(raw), Err: fmt.Errorf("confidence %v out of range", *shape.Confidence)}
	}

	return &Prediction{
		Confidence: *shape.Confidence,
		Prediction: *shape.Prediction,
		Status:     *shape.Status,
	}, nil
}

func encodeUpload(upload Upload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, upload.Filename))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
