package ai

import (
	"errors"
	"strings"
)

// ErrNoProvider indicates no backend provider is configured for the request.
var ErrNoProvider = errors.New("no AI provider configured")

// ErrMissingAPIKey indicates the provider's API key environment variable is unset.
var ErrMissingAPIKey = errors.New("missing API key")

// ErrorKind is the best-effort classification of a backend failure.
// Classification is by substring inspection of the error text; it is a
// display heuristic, not a strict taxonomy.
type ErrorKind string

const (
	ErrKindNetwork ErrorKind = "network"
	ErrKindTimeout ErrorKind = "timeout"
	ErrKindAuth    ErrorKind = "auth"
	ErrKindUnknown ErrorKind = "unknown"
)

// classification maps each kind to the lowercase substrings that select it.
// Earlier entries win; unknown is the fallback.
var classification = []struct {
	kind  ErrorKind
	terms []string
}{
	{ErrKindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrKindAuth, []string{"api key", "unauthorized", "401", "403", "invalid_api_key", "authentication"}},
	{ErrKindNetwork, []string{"network", "connection", "refused", "no such host", "dns", "eof", "broken pipe"}},
}

// displayStrings are the user-facing messages written into an assistant
// placeholder on dispatch failure. They match the original UI language.
var displayStrings = map[ErrorKind]string{
	ErrKindNetwork: "网络错误，请检查网络连接后重试",
	ErrKindTimeout: "请求超时，请稍后重试",
	ErrKindAuth:    "API 密钥无效或未配置，请检查设置",
	ErrKindUnknown: "未知错误",
}

// Classify maps an error to its kind by substring inspection.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrKindUnknown
	}
	text := strings.ToLower(err.Error())
	for _, entry := range classification {
		for _, term := range entry.terms {
			if strings.Contains(text, term) {
				return entry.kind
			}
		}
	}
	return ErrKindUnknown
}

// Display returns the user-facing message for the kind.
func (k ErrorKind) Display() string {
	if s, ok := displayStrings[k]; ok {
		return s
	}
	return displayStrings[ErrKindUnknown]
}

// DisplayError renders an error as a categorized user-facing string,
// appending the raw error text for unknown failures so that the cause is
// not lost.
func DisplayError(err error) string {
	kind := Classify(err)
	if kind == ErrKindUnknown && err != nil {
		return displayStrings[ErrKindUnknown] + ": " + err.Error()
	}
	return kind.Display()
}

// Retryable reports whether a failure of this kind is worth a user-initiated
// resend without changing anything. Auth failures are not.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindNetwork || k == ErrKindTimeout
}
