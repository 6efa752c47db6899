package resilience

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ThrottleTransport turns 429 and 503 responses that carry Retry-After into a
// *ThrottledError so HTTP SDKs that drop response headers still expose the delay.
type ThrottleTransport struct {
	Base http.RoundTripper
	now  func() time.Time
}

func NewThrottleTransport(base http.RoundTripper) *ThrottleTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &ThrottleTransport{Base: base, now: time.Now}
}

func (t *ThrottleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return resp, nil
	}

	delay, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), t.now())
	if !ok {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	_ = resp.Body.Close()

	throttled := &ThrottledError{StatusCode: resp.StatusCode, Delay: delay}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		throttled.Err = &remoteMessage{msg: msg}
	}
	return nil, throttled
}

// ParseRetryAfter accepts both delta-seconds and HTTP-date values.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		delay := at.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return 0, false
}

type remoteMessage struct {
	msg string
}

func (e *remoteMessage) Error() string { return e.msg }
