package devicecloud

import "fmt"

// AuthError reports a failed client-credentials exchange. No token is cached
// when it is returned.
type AuthError struct {
	StatusCode int // 0 when the request never produced a response
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("devicecloud: token exchange HTTP %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("devicecloud: token exchange: %v", e.Err)
	}
	return "devicecloud: token exchange failed"
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a failed device-cloud read or write made with a
// valid token.
type UpstreamError struct {
	Op         string // "read properties" | "publish property"
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("devicecloud: %s HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("devicecloud: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("devicecloud: %s failed", e.Op)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
