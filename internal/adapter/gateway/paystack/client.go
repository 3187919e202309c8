package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

const (
	// SignatureHeader carries the HMAC-SHA512 of the webhook body.
	SignatureHeader = "x-paystack-signature"

	maxResponseBytes = 1 << 20
	recipientName    = "Wallet Ledger User"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the provider credentials and endpoint.
type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

// Client implements ports.PaymentGateway against the Paystack REST API.
type Client struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	httpClient    HTTPClient
	signer        ports.SignatureService
	log           zerolog.Logger
}

// NewClient creates a Paystack client. A nil httpClient gets a default
// *http.Client bounded by cfg.Timeout.
func NewClient(cfg Config, httpClient HTTPClient, signer ports.SignatureService, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = cfg.SecretKey
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:     cfg.SecretKey,
		webhookSecret: webhookSecret,
		httpClient:    httpClient,
		signer:        signer,
		log:           log,
	}
}

// envelope is the shape of every Paystack response.
type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// declinedError is a request the provider understood and refused.
type declinedError struct {
	message string
}

func (e *declinedError) Error() string { return "declined by provider: " + e.message }

type recipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
}

type transferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
	Recipient string `json:"recipient"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reference    string `json:"reference"`
}

// CreateRecipient registers a NUBAN bank account and returns its recipient code.
func (c *Client) CreateRecipient(ctx context.Context, bankCode, accountNumber string) (string, error) {
	var resp envelope[recipientData]
	err := c.do(ctx, http.MethodPost, "/transferrecipient", recipientRequest{
		Type:          "nuban",
		Name:          recipientName,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      "NGN",
	}, &resp)
	if err != nil {
		return "", apperror.ErrUpstream("Could not create transfer recipient", err)
	}
	if resp.Data.RecipientCode == "" {
		return "", apperror.ErrUpstream("Could not create transfer recipient", errors.New("empty recipient code"))
	}
	return resp.Data.RecipientCode, nil
}

// InitiateTransfer creates the recipient and then a transfer from the
// balance. A refusal by the provider comes back as an unaccepted result.
func (c *Client) InitiateTransfer(ctx context.Context, in ports.TransferInstruction) (*ports.TransferResult, error) {
	recipient, err := c.CreateRecipient(ctx, in.BankCode, in.AccountNumber)
	if err != nil {
		var declined *declinedError
		if errors.As(err, &declined) {
			return &ports.TransferResult{Accepted: false, Message: declined.message}, nil
		}
		return nil, err
	}

	var resp envelope[transferData]
	err = c.do(ctx, http.MethodPost, "/transfer", transferRequest{
		Source:    "balance",
		Amount:    in.Amount,
		Reason:    in.Reason,
		Reference: in.Reference,
		Recipient: recipient,
	}, &resp)
	if err != nil {
		var declined *declinedError
		if errors.As(err, &declined) {
			return &ports.TransferResult{Accepted: false, Message: declined.message, RecipientCode: recipient}, nil
		}
		return nil, apperror.ErrUpstream("Could not initiate transfer", err)
	}

	result := &ports.TransferResult{
		Accepted:      resp.Data.Status != "failed",
		Message:       resp.Message,
		Status:        resp.Data.Status,
		TransferCode:  resp.Data.TransferCode,
		RecipientCode: recipient,
	}

	c.log.Info().
		Str("reference", in.Reference).
		Str("transfer_code", result.TransferCode).
		Str("status", result.Status).
		Bool("accepted", result.Accepted).
		Msg("transfer submitted to provider")

	return result, nil
}

// ListBanks returns the NGN banks the provider can pay out to.
func (c *Client) ListBanks(ctx context.Context) ([]ports.Bank, error) {
	var resp envelope[[]ports.Bank]
	if err := c.do(ctx, http.MethodGet, "/bank?currency=NGN", nil, &resp); err != nil {
		return nil, apperror.ErrUpstream("Could not fetch banks", err)
	}
	return resp.Data, nil
}

// VerifySignature checks the webhook signature over the raw body.
func (c *Client) VerifySignature(signature string, rawBody []byte) bool {
	return c.signer.Verify(c.webhookSecret, rawBody, signature)
}

// do sends a JSON request and decodes the envelope into out.
// 4xx answers and status=false bodies become a declinedError;
// transport failures and 5xx answers are plain errors.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("provider request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.log.Debug().
		Str("path", path).
		Int("status_code", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("provider responded")

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s %s: provider returned %d", method, path, resp.StatusCode)
	}

	var status struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !status.Status {
		c.log.Warn().
			Str("path", path).
			Int("status_code", resp.StatusCode).
			Str("message", status.Message).
			Msg("provider declined request")
		return &declinedError{message: status.Message}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
