package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/google/go-querystring/query"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/diagnosis/staybook/internal/apiclient")

// Transport speaks JSON to the marketplace API. It holds no credentials; callers
// pass the bearer token per request.
type Transport struct {
	baseURL string
	client  *http.Client
}

func NewTransport(baseURL string, timeout time.Duration) *Transport {
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type request struct {
	method  string
	path    string
	token   string
	params  interface{}
	body    interface{}
	headers map[string]string
}

// envelope is the API's success wrapper. Some endpoints answer with bare JSON.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
}

func (t *Transport) do(ctx context.Context, req request, out interface{}) error {
	ctx, span := tracer.Start(ctx, req.method+" "+req.path)
	defer span.End()

	url := t.baseURL + req.path
	if req.params != nil {
		values, err := query.Values(req.params)
		if err != nil {
			return fmt.Errorf("failed to encode query: %w", err)
		}
		if encoded := values.Encode(); encoded != "" {
			url += "?" + encoded
		}
	}

	var bodyReader io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to encode body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	for key, value := range req.headers {
		httpReq.Header.Set(key, value)
	}
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	logger.DebugContext(ctx, "Calling upstream", "method", req.method, "path", req.path)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return &NetworkError{Op: req.method + " " + req.path, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: req.method + " " + req.path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		span.SetStatus(codes.Error, apiErr.Message)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return decode(raw, out)
}

func decode(raw []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Success != nil && env.Data != nil {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
