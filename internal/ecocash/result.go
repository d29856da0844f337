package ecocash

import "net/http"

// ErrorKind classifies an API failure for retry and surfacing decisions.
type ErrorKind string

const (
	// ErrorValidation is a client-side validation failure. No request was
	// made and retrying the same input will never help.
	ErrorValidation ErrorKind = "validation"
	// ErrorNetwork covers DNS, connection and timeout failures. Always
	// transient.
	ErrorNetwork ErrorKind = "network"
	// ErrorAuth is a 401/403 from the API: a configuration fault that
	// needs operator attention, never retried.
	ErrorAuth ErrorKind = "auth"
	// ErrorRateLimit is a 429, retried with backoff.
	ErrorRateLimit ErrorKind = "rate_limit"
	// ErrorServer is a 5xx from the API.
	ErrorServer ErrorKind = "server"
	// ErrorMalformedResponse is a 200 whose body could not be decoded: a
	// permanent integration fault, not retried.
	ErrorMalformedResponse ErrorKind = "malformed_response"
	// ErrorClient is any other 4xx.
	ErrorClient ErrorKind = "client"
)

// APIError is the failure half of a Result.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RawBody    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Retryable reports whether another attempt with the same request could
// succeed. Client errors other than 429 are not transient.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case ErrorNetwork, ErrorServer, ErrorRateLimit:
		return true
	}
	return false
}

// Result is the outcome of one EcoCash API call: either Success with the
// decoded response body, or an APIError. Business-level failures are always
// values, never panics.
type Result struct {
	Success bool
	Data    map[string]interface{}
	Err     *APIError

	// Endpoint the request was sent to, for the observability sink.
	// Empty when validation failed before any request was built.
	Endpoint string
}

// Status returns the response "status" field, or "" if absent.
func (r Result) Status() string {
	if r.Data == nil {
		return ""
	}
	s, _ := r.Data["status"].(string)
	return s
}

// EcocashReference returns the provider-assigned reference, or "".
func (r Result) EcocashReference() string {
	if r.Data == nil {
		return ""
	}
	s, _ := r.Data["ecocashReference"].(string)
	return s
}

func successResult(data map[string]interface{}, endpoint string) Result {
	return Result{Success: true, Data: data, Endpoint: endpoint}
}

func errorResult(kind ErrorKind, statusCode int, message, rawBody, endpoint string) Result {
	return Result{
		Err: &APIError{
			Kind:       kind,
			StatusCode: statusCode,
			Message:    message,
			RawBody:    rawBody,
		},
		Endpoint: endpoint,
	}
}

func validationResult(message string) Result {
	return errorResult(ErrorValidation, http.StatusBadRequest, message, "", "")
}

// statusMessage maps an HTTP status code to the human-readable message the
// EcoCash documentation gives for it.
func statusMessage(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Bad Request: The request was unacceptable, often due to missing a required parameter."
	case http.StatusUnauthorized:
		return "Unauthorized: No valid API key provided."
	case http.StatusPaymentRequired:
		return "Request Failed: The parameters were valid but the request failed."
	case http.StatusForbidden:
		return "Forbidden: The API key doesn't have permissions to perform the request."
	case http.StatusNotFound:
		return "Not Found: The requested resource doesn't exist."
	case http.StatusConflict:
		return "Conflict: The request conflicts with another request."
	case http.StatusTooManyRequests:
		return "Too Many Requests: Too many requests hit the API too quickly."
	default:
		return "Server Error: Something went wrong on Ecocash's end."
	}
}

// kindForStatus classifies a non-200 response.
func kindForStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorAuth
	case statusCode == http.StatusTooManyRequests:
		return ErrorRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClient
	default:
		return ErrorServer
	}
}
