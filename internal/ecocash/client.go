package ecocash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iamblackshifu/ecocash-gobackend/internal/models"
	"github.com/iamblackshifu/ecocash-gobackend/internal/observe"
)

const defaultBaseURL = "https://developers.ecocash.co.zw/api/ecocash_pay"

const (
	paymentPath = "/api/v2/payment/instant/c2b/"
	lookupPath  = "/api/v1/transaction/c2b/status/"
	refundPath  = "/api/v2/refund/instant/c2b/"
)

const requestTimeout = 30 * time.Second

// PaymentRequest is the input for SubmitPayment. MobileNumber must already
// be canonical.
type PaymentRequest struct {
	MobileNumber string
	Amount       float64
	Reason       string
	Currency     string
	Reference    string
}

// LookupRequest is the input for LookupStatus.
type LookupRequest struct {
	MobileNumber string
	Reference    string
}

// RefundRequest is the input for SubmitRefund.
type RefundRequest struct {
	OriginalEcocashReference string
	RefundCorrelator         string
	SourceMobileNumber       string
	Amount                   float64
	ClientName               string
	Currency                 string
	ReasonForRefund          string
}

// Client sends signed requests to the EcoCash API. It is stateless apart
// from the circuit breaker; retry decisions live in Executor.
type Client struct {
	apiKey      string
	sandboxMode bool
	baseURL     string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	sink        *observe.Sink
}

// NewClient builds a client for the given mode. baseURL overrides the
// production host when non-empty (tests, sandbox tester).
func NewClient(apiKey string, sandboxMode bool, baseURL string, sink *observe.Sink) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:      apiKey,
		sandboxMode: sandboxMode,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ecocash-api",
			Timeout: 60 * time.Second,
		}),
		sink: sink,
	}
}

// SandboxMode reports which endpoint set the client targets.
func (c *Client) SandboxMode() bool {
	return c.sandboxMode
}

func (c *Client) endpoint(path string) string {
	mode := "live"
	if c.sandboxMode {
		mode = "sandbox"
	}
	return c.baseURL + path + mode
}

// SubmitPayment initiates a customer-to-business payment. Validation runs
// before any network call; an invalid request never reaches the API.
func (c *Client) SubmitPayment(ctx context.Context, req PaymentRequest) Result {
	if req.MobileNumber == "" || req.Reason == "" || req.Currency == "" || req.Reference == "" {
		return validationResult("Missing required payment field")
	}
	if !IsValidMobileNumber(req.MobileNumber) {
		return validationResult("Invalid mobile number format. Expected format: 263xxxxxxxxx")
	}
	if req.Amount <= 0 {
		return validationResult("Invalid amount. Must be a positive number.")
	}
	if !models.IsSupportedCurrency(req.Currency) {
		return validationResult("Unsupported currency: " + req.Currency)
	}

	body := map[string]interface{}{
		"customerMsisdn":  req.MobileNumber,
		"amount":          req.Amount,
		"reason":          req.Reason,
		"currency":        req.Currency,
		"sourceReference": req.Reference,
	}
	return c.post(ctx, c.endpoint(paymentPath), body)
}

// LookupStatus queries the current status of a transaction by its
// merchant reference.
func (c *Client) LookupStatus(ctx context.Context, req LookupRequest) Result {
	if req.MobileNumber == "" || req.Reference == "" {
		return validationResult("Missing required lookup field")
	}
	if !IsValidMobileNumber(req.MobileNumber) {
		return validationResult("Invalid mobile number format. Expected format: 263xxxxxxxxx")
	}

	body := map[string]interface{}{
		"customerMsisdn":  req.MobileNumber,
		"sourceReference": req.Reference,
	}
	return c.post(ctx, c.endpoint(lookupPath), body)
}

// SubmitRefund reverses a previously completed payment.
func (c *Client) SubmitRefund(ctx context.Context, req RefundRequest) Result {
	if req.OriginalEcocashReference == "" || req.RefundCorrelator == "" ||
		req.SourceMobileNumber == "" || req.ClientName == "" ||
		req.Currency == "" || req.ReasonForRefund == "" {
		return validationResult("Missing required refund field")
	}
	if !IsValidMobileNumber(req.SourceMobileNumber) {
		return validationResult("Invalid mobile number format. Expected format: 263xxxxxxxxx")
	}
	if req.Amount <= 0 {
		return validationResult("Invalid amount. Must be a positive number.")
	}
	if !models.IsSupportedCurrency(req.Currency) {
		return validationResult("Unsupported currency: " + req.Currency)
	}

	body := map[string]interface{}{
		"originalEcocashTransactionReference": req.OriginalEcocashReference,
		"refundCorrelator":                    req.RefundCorrelator,
		"sourceMobileNumber":                  req.SourceMobileNumber,
		"amount":                              req.Amount,
		"clientName":                          req.ClientName,
		"currency":                            req.Currency,
		"reasonForRefund":                     req.ReasonForRefund,
	}
	return c.post(ctx, c.endpoint(refundPath), body)
}

// TestConnection probes the API with a dummy lookup. The lookup itself is
// expected to fail; the connection counts as healthy as long as the API
// answered with anything but a 401.
func (c *Client) TestConnection(ctx context.Context) Result {
	res := c.LookupStatus(ctx, LookupRequest{
		MobileNumber: "263771234567",
		Reference:    fmt.Sprintf("test-%d", time.Now().Unix()),
	})
	if res.Success {
		return res
	}
	if res.Err.Kind != ErrorNetwork && res.Err.StatusCode != http.StatusUnauthorized {
		return successResult(map[string]interface{}{"message": "API connection successful"}, res.Endpoint)
	}
	return res
}

func (c *Client) post(ctx context.Context, url string, payload map[string]interface{}) Result {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return errorResult(ErrorValidation, http.StatusBadRequest, fmt.Sprintf("failed to encode request: %v", err), "", url)
	}

	resp, err := c.send(ctx, url, reqBody)
	if err != nil {
		return errorResult(ErrorNetwork, http.StatusInternalServerError, "Network error: "+err.Error(), "", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResult(ErrorNetwork, http.StatusInternalServerError, "Network error: "+err.Error(), "", url)
	}

	if resp.StatusCode == http.StatusOK {
		var decoded map[string]interface{}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return errorResult(ErrorMalformedResponse, http.StatusInternalServerError,
				"Invalid JSON response from API", string(body), url)
		}
		return successResult(decoded, url)
	}

	message := statusMessage(resp.StatusCode)
	var decodedErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &decodedErr) == nil && decodedErr.Message != "" {
		message += " - " + decodedErr.Message
	}
	return errorResult(kindForStatus(resp.StatusCode), resp.StatusCode, message, string(body), url)
}

// send performs the HTTP exchange through the circuit breaker, so a dead
// provider fails fast instead of tying up checkout requests for 30s each.
func (c *Client) send(ctx context.Context, url string, body []byte) (*http.Response, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", c.apiKey)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}
