// Package telephony places outbound voice calls.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var ErrNotConfigured = errors.New("telephony provider is not configured")

// Call is an outbound call request. TwiML is the script the callee hears.
type Call struct {
	From  string
	To    string
	TwiML string
}

// Caller places a call and returns the provider's call id.
type Caller interface {
	PlaceCall(ctx context.Context, call Call) (string, error)
}

// TwilioCaller places calls through the Twilio REST API.
type TwilioCaller struct {
	client *twilio.RestClient
}

func NewTwilioCaller(accountSID, authToken string) *TwilioCaller {
	return &TwilioCaller{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
	}
}

type callResult struct {
	sid string
	err error
}

// PlaceCall creates the call. The Twilio client has no context support, so
// the request runs in a goroutine and ctx only bounds how long we wait.
func (t *TwilioCaller) PlaceCall(ctx context.Context, call Call) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetFrom(call.From)
	params.SetTo(call.To)
	params.SetTwiml(call.TwiML)

	done := make(chan callResult, 1)
	go func() {
		resp, err := t.client.Api.CreateCall(params)
		if err != nil {
			done <- callResult{err: fmt.Errorf("twilio create call: %w", err)}
			return
		}
		if resp.Sid == nil {
			done <- callResult{err: errors.New("twilio create call: response has no sid")}
			return
		}
		done <- callResult{sid: *resp.Sid}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.sid, r.err
	}
}

// UnconfiguredCaller is used when no provider credentials are set. Every
// call fails with ErrNotConfigured.
type UnconfiguredCaller struct{}

func (UnconfiguredCaller) PlaceCall(context.Context, Call) (string, error) {
	return "", ErrNotConfigured
}

// MockCaller is a test double for Caller.
type MockCaller struct {
	mu         sync.Mutex
	calls      []Call
	SID        string
	ShouldFail bool
	FailError  string
}

// PlaceCall records the call and optionally returns an error.
func (m *MockCaller) PlaceCall(_ context.Context, call Call) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if m.ShouldFail {
		return "", errors.New(m.FailError)
	}
	if m.SID == "" {
		return fmt.Sprintf("CA%032d", len(m.calls)), nil
	}
	return m.SID, nil
}

// Calls returns a copy of recorded calls.
func (m *MockCaller) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
