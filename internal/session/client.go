package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/services"
)

// Client mirrors one attempt's server state for a participant UI. The
// server stays authoritative: both countdowns are re-seeded from server
// responses, and local ticks only drive the display and the timeout
// callbacks between round trips.
//
// Timer rules:
//   - the attempt countdown is re-initialized from time_left_sec on every
//     response, never extrapolated locally across responses
//   - the question countdown resets only when the cursor moves to a new
//     question; re-fetching the same question keeps it running
//   - each timeout callback fires at most once per arming
type Client struct {
	mu       sync.Mutex
	protocol Protocol

	attempt  *services.AttemptView
	question *services.QuestionView
	done     bool

	attemptRemaining  *int64
	questionRemaining *int64
	questionCursor    int

	attemptTimedOut  bool
	questionTimedOut bool

	onAttemptTimeout  func()
	onQuestionTimeout func()
}

type ClientOption func(*Client)

// OnAttemptTimeout replaces the default action for the attempt countdown
// hitting zero. The default submits the attempt via Finish.
func OnAttemptTimeout(fn func()) ClientOption {
	return func(c *Client) { c.onAttemptTimeout = fn }
}

// OnQuestionTimeout replaces the default action for the question countdown
// hitting zero. The default re-fetches so the server can skip forward.
func OnQuestionTimeout(fn func()) ClientOption {
	return func(c *Client) { c.onQuestionTimeout = fn }
}

func NewClient(protocol Protocol, opts ...ClientOption) *Client {
	c := &Client{protocol: protocol, questionCursor: -1}
	for _, opt := range opts {
		opt(c)
	}
	if c.onAttemptTimeout == nil {
		c.onAttemptTimeout = func() { _ = c.Finish(context.Background()) }
	}
	if c.onQuestionTimeout == nil {
		c.onQuestionTimeout = func() { _ = c.Refresh(context.Background()) }
	}
	return c
}

// Start opens (or resumes) an attempt and seeds the mirror.
func (c *Client) Start(ctx context.Context, req *services.StartAttemptRequest) error {
	resp, err := c.protocol.Start(ctx, req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyResponse(resp)
	return nil
}

// Refresh re-fetches the current question and reconciles the mirror. This
// is also the recovery path after a timeout callback or a version
// conflict.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	attemptID, err := c.attemptIDLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	resp, err := c.protocol.NextQuestion(ctx, attemptID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyResponse(resp)
	return nil
}

// Submit sends an answer for the current question, echoing the version
// last seen from the server.
func (c *Client) Submit(ctx context.Context, payload models.AnswerPayload) error {
	c.mu.Lock()
	attemptID, err := c.attemptIDLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	version := c.attempt.Version
	c.mu.Unlock()

	resp, err := c.protocol.SubmitAnswer(ctx, attemptID, &services.SubmitAnswerRequest{
		Version: version,
		Payload: payload,
	})
	if err != nil {
		c.resync(ctx, err)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyResponse(resp)
	return nil
}

// Finish submits the attempt.
func (c *Client) Finish(ctx context.Context) error {
	return c.terminate(ctx, c.protocol.Finish)
}

// Cancel abandons the attempt.
func (c *Client) Cancel(ctx context.Context) error {
	return c.terminate(ctx, c.protocol.Cancel)
}

func (c *Client) terminate(ctx context.Context, op func(context.Context, string, int) (*services.AttemptView, error)) error {
	c.mu.Lock()
	attemptID, err := c.attemptIDLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	version := c.attempt.Version
	c.mu.Unlock()

	view, err := op(ctx, attemptID, version)
	if err != nil {
		c.resync(ctx, err)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyAttemptView(view)
	c.question = nil
	c.done = true
	return nil
}

// Tick advances the local countdowns by one second. The caller drives it
// from its own ticker; tests drive it directly.
func (c *Client) Tick() {
	c.mu.Lock()

	var fireAttempt, fireQuestion bool

	if c.attemptRemaining != nil && !c.attemptTimedOut {
		if *c.attemptRemaining > 0 {
			*c.attemptRemaining--
		}
		if *c.attemptRemaining <= 0 {
			c.attemptTimedOut = true
			fireAttempt = c.onAttemptTimeout != nil
		}
	}
	if c.questionRemaining != nil && !c.questionTimedOut {
		if *c.questionRemaining > 0 {
			*c.questionRemaining--
		}
		if *c.questionRemaining <= 0 {
			c.questionTimedOut = true
			fireQuestion = c.onQuestionTimeout != nil
		}
	}

	attemptCb := c.onAttemptTimeout
	questionCb := c.onQuestionTimeout
	c.mu.Unlock()

	// Callbacks run outside the lock so they can call back into the client.
	if fireAttempt {
		attemptCb()
	}
	if fireQuestion {
		questionCb()
	}
}

// Attempt returns the last attempt view received from the server.
func (c *Client) Attempt() *services.AttemptView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Question returns the currently served question, nil when none is open.
func (c *Client) Question() *services.QuestionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.question
}

// Done reports whether the server said there is nothing left to serve.
func (c *Client) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// AttemptRemaining returns the mirrored whole-attempt countdown in
// seconds, or false when no limit applies.
func (c *Client) AttemptRemaining() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attemptRemaining == nil {
		return 0, false
	}
	return *c.attemptRemaining, true
}

// QuestionRemaining returns the mirrored per-question countdown in
// seconds, or false when no limit applies.
func (c *Client) QuestionRemaining() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.questionRemaining == nil {
		return 0, false
	}
	return *c.questionRemaining, true
}

// resync re-fetches the authoritative attempt view after a version
// conflict or expiry, so the mirror never keeps serving stale local state.
// Best effort: the original error is what the caller sees.
func (c *Client) resync(ctx context.Context, err error) {
	if errors.Is(err, services.ErrVersionConflict) || errors.Is(err, services.ErrAttemptExpired) {
		_ = c.Refresh(ctx)
	}
}

func (c *Client) attemptIDLocked() (string, error) {
	if c.attempt == nil {
		return "", fmt.Errorf("no attempt in progress")
	}
	return c.attempt.ID, nil
}

// applyResponse reconciles the mirror with a server response. Callers hold
// the lock.
func (c *Client) applyResponse(resp *services.NextQuestionResponse) {
	previousCursor := c.questionCursor

	c.applyAttemptView(resp.Attempt)
	c.question = resp.Question
	c.done = resp.Done

	if resp.Question == nil {
		c.questionRemaining = nil
		c.questionTimedOut = false
		c.questionCursor = -1
		return
	}

	// Only a cursor move re-arms the question countdown; polling the same
	// question must not grant extra time locally. The seeded value still
	// comes from the server either way.
	if resp.Attempt.Cursor != previousCursor {
		c.questionRemaining = cloneSeconds(resp.Attempt.QuestionTimeLeftSec)
		c.questionTimedOut = false
	} else if resp.Attempt.QuestionTimeLeftSec != nil && c.questionRemaining != nil {
		// Same question: adopt the server's lower bound.
		if *resp.Attempt.QuestionTimeLeftSec < *c.questionRemaining {
			c.questionRemaining = cloneSeconds(resp.Attempt.QuestionTimeLeftSec)
		}
	}
	c.questionCursor = resp.Attempt.Cursor
}

func (c *Client) applyAttemptView(view *services.AttemptView) {
	c.attempt = view
	if view == nil {
		c.attemptRemaining = nil
		return
	}

	// The attempt countdown always restarts from the server's value.
	c.attemptRemaining = cloneSeconds(view.TimeLeftSec)
	if c.attemptRemaining != nil {
		c.attemptTimedOut = false
	}
	if view.Status != models.AttemptActive {
		c.attemptRemaining = nil
		c.questionRemaining = nil
	}
}

func cloneSeconds(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
