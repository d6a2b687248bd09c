package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors surfaced to callers. Retry policy belongs to the
// caller; the client never retries on its own.
var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrInvalidAmount      = errors.New("amount must round to a positive whole unit")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

const defaultTimeout = 10 * time.Second

// Config carries Daraja credentials and endpoints.
type Config struct {
	BaseURL        string // e.g. https://sandbox.safaricom.co.ke
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string // business short code (PartyB / merchant code)
	Passkey        string
	CallbackURL    string
}

// Client talks to the Daraja REST API.
type Client struct {
	cfg     Config
	httpc   *http.Client
	nowFunc func() time.Time
}

// NewClient returns a Daraja client with a bounded request timeout.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: defaultTimeout},
		nowFunc: time.Now,
	}
}

// FormatPhoneNumber normalizes a subscriber number to the canonical
// 254XXXXXXXXX form: a leading '+' is stripped, then either the 254
// country code or the domestic leading zero is accepted.
func FormatPhoneNumber(phone string) (string, error) {
	number := strings.TrimSpace(phone)
	number = strings.TrimPrefix(number, "+")

	switch {
	case strings.HasPrefix(number, "254"):
		// already international
	case strings.HasPrefix(number, "0"):
		number = "254" + number[1:]
	default:
		return "", fmt.Errorf("%w: %q has neither country code nor leading zero", ErrInvalidPhoneNumber, phone)
	}

	if len(number) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, phone)
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, phone)
		}
	}
	return number, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken exchanges the app credentials for a short-lived bearer token.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	url := c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrGatewayUnavailable, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrGatewayUnavailable)
	}
	return tok.AccessToken, nil
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPush builds, signs and submits a push-payment request. The returned
// CheckoutRequestID is the correlation token matched against the
// asynchronous callback.
func (c *Client) STKPush(ctx context.Context, pushReq STKPushRequest) (*STKPushResponse, error) {
	phone, err := FormatPhoneNumber(pushReq.PhoneNumber)
	if err != nil {
		return nil, err
	}

	amount := int64(math.Round(pushReq.Amount))
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, pushReq.Amount)
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.nowFunc().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))

	payload := stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  "Order" + pushReq.OrderID,
		TransactionDesc:   "Payment for Order " + pushReq.OrderID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal stk push payload: %w", err)
	}

	url := c.cfg.BaseURL + "/mpesa/stkpush/v1/processrequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stk push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stk push: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: stk push returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	var pushResp STKPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushResp); err != nil {
		return nil, fmt.Errorf("%w: decode stk push response: %v", ErrGatewayUnavailable, err)
	}
	if pushResp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: response missing CheckoutRequestID", ErrGatewayUnavailable)
	}
	return &pushResp, nil
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
