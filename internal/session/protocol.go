// Package session implements the participant-side attempt client: a thin
// protocol binding plus a state mirror that tracks the server's timers
// without ever extrapolating its own deadlines.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/services"
)

// Protocol is the server surface the session client drives. The HTTP
// binding below is the production implementation; tests script their own.
type Protocol interface {
	Start(ctx context.Context, req *services.StartAttemptRequest) (*services.NextQuestionResponse, error)
	NextQuestion(ctx context.Context, attemptID string) (*services.NextQuestionResponse, error)
	SubmitAnswer(ctx context.Context, attemptID string, req *services.SubmitAnswerRequest) (*services.NextQuestionResponse, error)
	Finish(ctx context.Context, attemptID string, version int) (*services.AttemptView, error)
	Cancel(ctx context.Context, attemptID string, version int) (*services.AttemptView, error)
}

// HTTPProtocol talks to the attempt service over its REST API.
type HTTPProtocol struct {
	baseURL     string
	token       string
	fingerprint string
	client      *http.Client
}

type HTTPProtocolOption func(*HTTPProtocol)

// WithToken attaches a bearer token for registered participants.
func WithToken(token string) HTTPProtocolOption {
	return func(p *HTTPProtocol) { p.token = token }
}

// WithFingerprint sets the browser fingerprint sent on every request.
func WithFingerprint(fingerprint string) HTTPProtocolOption {
	return func(p *HTTPProtocol) { p.fingerprint = fingerprint }
}

func WithHTTPClient(client *http.Client) HTTPProtocolOption {
	return func(p *HTTPProtocol) { p.client = client }
}

func NewHTTPProtocol(baseURL string, opts ...HTTPProtocolOption) *HTTPProtocol {
	p := &HTTPProtocol{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProtocol) Start(ctx context.Context, req *services.StartAttemptRequest) (*services.NextQuestionResponse, error) {
	var resp services.NextQuestionResponse
	if err := p.do(ctx, http.MethodPost, "/api/v1/attempts/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProtocol) NextQuestion(ctx context.Context, attemptID string) (*services.NextQuestionResponse, error) {
	var resp services.NextQuestionResponse
	path := fmt.Sprintf("/api/v1/attempts/%s/next", attemptID)
	if err := p.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProtocol) SubmitAnswer(ctx context.Context, attemptID string, req *services.SubmitAnswerRequest) (*services.NextQuestionResponse, error) {
	var resp services.NextQuestionResponse
	path := fmt.Sprintf("/api/v1/attempts/%s/answer", attemptID)
	if err := p.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *HTTPProtocol) Finish(ctx context.Context, attemptID string, version int) (*services.AttemptView, error) {
	var view services.AttemptView
	path := fmt.Sprintf("/api/v1/attempts/%s/finish", attemptID)
	if err := p.do(ctx, http.MethodPost, path, services.FinishAttemptRequest{Version: version}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (p *HTTPProtocol) Cancel(ctx context.Context, attemptID string, version int) (*services.AttemptView, error) {
	var view services.AttemptView
	path := fmt.Sprintf("/api/v1/attempts/%s/cancel", attemptID)
	if err := p.do(ctx, http.MethodPost, path, services.CancelAttemptRequest{Version: version}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (p *HTTPProtocol) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if p.fingerprint != "" {
		req.Header.Set("X-Client-Fingerprint", p.fingerprint)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError maps HTTP statuses back onto the service sentinels so the
// session client reacts the same way in and out of process.
func decodeError(resp *http.Response) error {
	var body models.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	message := body.Message
	if message == "" {
		message = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", services.ErrAttemptNotFound, message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", services.ErrForbidden, message)
	case http.StatusGone:
		return fmt.Errorf("%w: %s", services.ErrAttemptExpired, message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", services.ErrAttemptLimitExceeded, message)
	case http.StatusConflict:
		switch body.Error {
		case "version_conflict":
			return fmt.Errorf("%w: %s", services.ErrVersionConflict, message)
		case "incomplete_attempt":
			return fmt.Errorf("%w: %s", services.ErrIncompleteAttempt, message)
		default:
			return fmt.Errorf("%w: %s", services.ErrAttemptNotActive, message)
		}
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", services.ErrInvalidAnswerPayload, message)
	default:
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, message)
	}
}
