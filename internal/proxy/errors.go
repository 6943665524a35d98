package proxy

import "fmt"

// ErrCodeMissingVerification is the proxy error code meaning site ownership
// has not been confirmed yet. It is the only recoverable exchange failure.
const ErrCodeMissingVerification = "missing_verification"

// MissingVerificationError reports that the proxy could not confirm site
// ownership yet. The caller must carry SiteCode back into the proxy setup
// flow so verification can complete and the exchange be retried.
type MissingVerificationError struct {
	SiteCode string
}

func (e *MissingVerificationError) Error() string {
	return "site ownership not verified yet"
}

// ExchangeError is a terminal site-code exchange failure. Code is the
// proxy-reported error code surfaced to the user notice.
type ExchangeError struct {
	Code string
	Err  error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("site code exchange failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("site code exchange failed (%s)", e.Code)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
