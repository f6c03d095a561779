package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/smallbiznis/rebill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log *zap.Logger
	Cfg config.Config
}

// Client talks to the payment gateway's REST API. Callers bound each call
// with a context deadline; the embedded http.Client timeout is the backstop.
type Client struct {
	log        *zap.Logger
	httpClient *http.Client
	baseURL    string
	publicKey  string
	privateKey string
}

func NewClient(p Params) *Client {
	return &Client{
		log:        p.Log.Named("gateway.client"),
		httpClient: &http.Client{Timeout: p.Cfg.Gateway.Timeout},
		baseURL:    strings.TrimRight(p.Cfg.Gateway.BaseURL, "/"),
		publicKey:  p.Cfg.Gateway.PublicKey,
		privateKey: p.Cfg.Gateway.PrivateKey,
	}
}

type merchantResponse struct {
	Data struct {
		PresignedAcceptance struct {
			AcceptanceToken string `json:"acceptance_token"`
		} `json:"presigned_acceptance"`
	} `json:"data"`
}

// AcceptanceToken fetches the short-lived acceptance token required when
// creating a payment source.
func (c *Client) AcceptanceToken(ctx context.Context) (string, error) {
	var out merchantResponse
	if err := c.do(ctx, http.MethodGet, "/merchants/"+c.publicKey, nil, &out); err != nil {
		return "", err
	}
	token := strings.TrimSpace(out.Data.PresignedAcceptance.AcceptanceToken)
	if token == "" {
		return "", ErrRejected
	}
	return token, nil
}

type sourceResponse struct {
	Data struct {
		ID       int64  `json:"id"`
		Status   string `json:"status"`
		Brand    string `json:"brand"`
		LastFour string `json:"last_four"`
	} `json:"data"`
}

// CreatePaymentSource exchanges a one-time card token plus acceptance token
// for a durable source id.
func (c *Client) CreatePaymentSource(ctx context.Context, req SourceRequest) (*Source, error) {
	if req.Type == "" {
		req.Type = "CARD"
	}
	var out sourceResponse
	if err := c.do(ctx, http.MethodPost, "/payment_sources", req, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == 0 {
		return nil, ErrRejected
	}
	return &Source{
		ID:       out.Data.ID,
		Status:   out.Data.Status,
		Brand:    out.Data.Brand,
		LastFour: out.Data.LastFour,
	}, nil
}

type transactionResponse struct {
	Data struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
	} `json:"data"`
}

// CreateTransaction charges a stored source. The reference doubles as the
// gateway-side idempotency key: resubmitting the same reference does not
// create a second charge.
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	var out transactionResponse
	if err := c.do(ctx, http.MethodPost, "/transactions", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Data.ID) == "" {
		return nil, ErrRejected
	}
	return &Transaction{
		ID:        out.Data.ID,
		Status:    strings.ToUpper(strings.TrimSpace(out.Data.Status)),
		Reference: out.Data.Reference,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.privateKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.log.Warn("gateway returned server error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.log.Warn("gateway rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}

var Module = fx.Module("gateway",
	fx.Provide(
		NewClient,
		func(c *Client) API { return c },
	),
)
