package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oohdoc/booking-platform/pkg/logging"
)

// ProcessorClient talks to the card processor's REST API with
// form-encoded bodies: payment-method creation from collected card input
// and server-side intent confirmation.
type ProcessorClient struct {
	baseURL    string
	secretKey  string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewProcessorClient creates a processor client.
func NewProcessorClient(baseURL, secretKey string, logger *logging.Logger) *ProcessorClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &ProcessorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the processor API base URL (for testing).
func (c *ProcessorClient) WithBaseURL(baseURL string) *ProcessorClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// CardInput is the collected card form data.
type CardInput struct {
	Number   string
	ExpMonth string
	ExpYear  string
	CVC      string
	Name     string
}

// IntentConfirmation is the subset of the confirmed intent we need.
type IntentConfirmation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// processorError is the processor's error envelope.
type processorError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// CreatePaymentMethod turns collected card input into a payment method id.
func (c *ProcessorClient) CreatePaymentMethod(ctx context.Context, card CardInput) (string, error) {
	form := url.Values{}
	form.Set("type", "card")
	form.Set("card[number]", strings.ReplaceAll(card.Number, " ", ""))
	form.Set("card[exp_month]", card.ExpMonth)
	form.Set("card[exp_year]", card.ExpYear)
	form.Set("card[cvc]", card.CVC)
	if name := strings.TrimSpace(card.Name); name != "" {
		form.Set("billing_details[name]", name)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/payment_methods", form, &parsed); err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("payments: processor response missing payment method id")
	}
	return parsed.ID, nil
}

// ConfirmIntent confirms the payment intent identified by its client
// secret with the given payment method. The caller decides what any
// status other than "succeeded" means.
func (c *ProcessorClient) ConfirmIntent(ctx context.Context, clientSecret, paymentMethodID string) (*IntentConfirmation, error) {
	intentID, err := intentIDFromClientSecret(clientSecret)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("payment_method", paymentMethodID)
	form.Set("client_secret", clientSecret)

	var parsed IntentConfirmation
	if err := c.post(ctx, "/v1/payment_intents/"+intentID+"/confirm", form, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *ProcessorClient) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("payments: processor request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: processor http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("payments: processor read: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		var perr processorError
		if json.Unmarshal(body, &perr) == nil && perr.Error.Message != "" {
			return &FailedError{Status: perr.Error.Code, Message: perr.Error.Message}
		}
		return fmt.Errorf("payments: processor status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payments: processor decode: %w", err)
	}
	return nil
}

// intentIDFromClientSecret extracts "pi_…" from "pi_…_secret_…".
func intentIDFromClientSecret(clientSecret string) (string, error) {
	idx := strings.Index(clientSecret, "_secret_")
	if idx <= 0 {
		return "", fmt.Errorf("payments: malformed intent client secret")
	}
	return clientSecret[:idx], nil
}
