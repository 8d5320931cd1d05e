package probe

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// maxBody caps how much of a body is kept when TransferBody is set.
const maxBody = 64 << 10

// HTTPClient is the net/http backed Requester.
type HTTPClient struct {
	Follow   *http.Client
	NoFollow *http.Client
}

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		Follow: &http.Client{},
		NoFollow: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *HTTPClient) Do(ctx context.Context, r Request) Response {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return Response{Err: err}
	}
	if r.Body != "" {
		ct := r.ContentType
		if ct == "" {
			ct = "application/x-www-form-urlencoded"
		}
		req.Header.Set("Content-Type", ct)
	}

	client := c.NoFollow
	if r.FollowRedirects {
		client = c.Follow
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{Err: err}
	}
	defer resp.Body.Close()

	out := Response{OK: true, StatusCode: resp.StatusCode}
	if r.TransferBody {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			out.Err = err
			return out
		}
		out.Body = b
	}
	return out
}
