package apiclient

import (
	"encoding/json"
	"net/http"
	"strings"
)

// envelope is the shape of every response body:
// { success: true, data, meta? } or { success: false, error: { code, message } }.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta,omitempty"`
	Error   *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rawResponse is a fully read response.
type rawResponse struct {
	status int
	body   []byte
}

func (r rawResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// apiError builds the error for a non-2xx response, using the envelope when the
// body has one.
func (r rawResponse) apiError() *APIError {
	e := &APIError{Status: r.status, Message: http.StatusText(r.status)}
	var env envelope
	if err := json.Unmarshal(r.body, &env); err == nil && env.Error != nil {
		e.Code = env.Error.Code
		if env.Error.Message != "" {
			e.Message = env.Error.Message
		}
	}
	return e
}

// decode unwraps the envelope of a 2xx response into out. out may be nil.
func (r rawResponse) decode(out interface{}) error {
	if !r.ok() {
		return r.apiError()
	}
	if len(strings.TrimSpace(string(r.body))) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(r.body, &env); err != nil {
		return &APIError{Status: r.status, Code: "MALFORMED_RESPONSE", Message: err.Error()}
	}
	if !env.Success {
		e := &APIError{Status: r.status, Code: "REQUEST_FAILED", Message: "Request failed"}
		if env.Error != nil {
			e.Code, e.Message = env.Error.Code, env.Error.Message
		}
		return e
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &APIError{Status: r.status, Code: "MALFORMED_RESPONSE", Message: err.Error()}
	}
	return nil
}
