package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// modelBody is the minimal shape read from a client request body to
// extract the routing key. Every other field is passed through to the
// backend untouched.
type modelBody struct {
	Model string `json:"model"`
}

// RequestError is a client-input validation failure, distinct from a
// downstream lifecycle/backend failure.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// ExtractModel reads up to maxBodyBytes of r's body, parses the "model"
// field, and returns the model name along with the full buffered body so
// it can be replayed to the backend without loss. A body larger than
// maxBodyBytes is rejected rather than silently truncated.
func ExtractModel(r *http.Request, maxBodyBytes int64) (string, []byte, error) {
	limited := io.LimitReader(r.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", nil, &RequestError{Message: fmt.Sprintf("failed to read request body: %v", err)}
	}
	if int64(len(body)) > maxBodyBytes {
		return "", nil, errRequestTooLarge
	}

	var mb modelBody
	if err := json.Unmarshal(body, &mb); err != nil {
		return "", nil, &RequestError{Message: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if mb.Model == "" {
		return "", nil, &RequestError{Message: `request body must include a non-empty "model" field`}
	}

	return mb.Model, body, nil
}

var errRequestTooLarge = &RequestError{Message: "request body exceeds the configured size limit"}

// IsRequestTooLarge reports whether err is the body-size-limit failure, so
// callers can map it to 413 instead of 400.
func IsRequestTooLarge(err error) bool {
	return err == errRequestTooLarge
}

// ReplaceBody installs body as r's new, fully-buffered request body so it
// can be read again by the reverse proxy after ExtractModel already
// consumed the original.
func ReplaceBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
}
