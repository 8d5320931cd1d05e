package probe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

var (
	ErrInvalidURL = errors.New("invalid url format")
	ErrClosed     = errors.New("probe closed")
)

// Request describes one HTTP check.
type Request struct {
	Method          string
	URL             string
	Body            string
	ContentType     string
	Timeout         time.Duration
	FollowRedirects bool
	TransferBody    bool
}

// Response is what the HTTP client collaborator reports back.
//
// OK is true when a response was received at all; StatusCode is 0 on
// transport errors.
type Response struct {
	OK         bool
	StatusCode int
	Body       []byte
	Err        error
}

// Requester is the HTTP client collaborator. Cancelling ctx aborts the call.
type Requester interface {
	Do(ctx context.Context, req Request) Response
}

// Online is the single classification rule: a received response with 200.
func Online(r Response) bool {
	return r.Err == nil && r.OK && r.StatusCode == 200
}

// Token identifies one started request. Tokens are unique across probes, so
// a probe rebuilt under the same key never accepts its predecessor's results.
type Token uint64

var lastToken atomic.Uint64

// Outcome is delivered on the owner's channel when a request completes.
type Outcome struct {
	Key        string
	Token      Token
	Online     bool
	StatusCode int
	Err        error
	Manual     bool
	At         time.Time
}

// Probe runs at most one request at a time for a single target. Starting a
// new request cancels the previous one, and Accept only admits the outcome of
// the latest request.
type Probe struct {
	key    string
	client Requester
	out    chan<- Outcome

	mu       sync.Mutex
	current  Token
	inflight bool
	closed   bool
	cancel   context.CancelFunc
}

func New(key string, client Requester, out chan<- Outcome) *Probe {
	return &Probe{key: key, client: client, out: out}
}

func (p *Probe) Key() string { return p.key }

// Start validates the URL, supersedes any in-flight request and dispatches a
// new one. An invalid URL cancels the previous request too and returns
// ErrInvalidURL without touching the network.
func (p *Probe) Start(ctx context.Context, req Request, manual bool) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	p.cancelLocked()
	p.current = Token(lastToken.Add(1))

	if !ValidURL(req.URL) {
		return p.current, ErrInvalidURL
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	rctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.inflight = true

	go p.run(rctx, p.current, req, manual)
	return p.current, nil
}

func (p *Probe) run(ctx context.Context, tok Token, req Request, manual bool) {
	resp := p.client.Do(ctx, req)
	o := Outcome{
		Key:        p.key,
		Token:      tok,
		Online:     Online(resp),
		StatusCode: resp.StatusCode,
		Err:        resp.Err,
		Manual:     manual,
		At:         time.Now(),
	}
	select {
	case p.out <- o:
	case <-ctx.Done():
	}
}

// Accept reports whether o is the live result of this probe. It returns true
// at most once per request.
func (p *Probe) Accept(o Outcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || !p.inflight || o.Key != p.key || o.Token != p.current {
		return false
	}
	p.inflight = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return true
}

// InFlight is true while a request has been started and not yet accepted or
// cancelled.
func (p *Probe) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// Cancel aborts the in-flight request, if any. Safe to call repeatedly.
func (p *Probe) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

// Close cancels and refuses further starts.
func (p *Probe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
	p.closed = true
}

func (p *Probe) cancelLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.inflight = false
}
