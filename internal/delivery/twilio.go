package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	twilioProviderName   = "twilio"
	defaultTwilioBaseURL = "https://api.twilio.com"
)

// TwilioConfig configures the Twilio SMS provider.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	HTTPClient *http.Client
}

// twilioProvider delivers text messages through the Twilio messages API.
type twilioProvider struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

// NewTwilioProvider constructs the Twilio provider.
func NewTwilioProvider(cfg TwilioConfig) Provider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &twilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (p *twilioProvider) Name() string {
	return twilioProviderName
}

type twilioSendResponse struct {
	SID string `json:"sid"`
}

func (p *twilioProvider) Send(ctx context.Context, recipient, message string) (Receipt, error) {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", p.fromNumber)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Receipt{}, err
	}
	request.SetBasicAuth(p.accountSID, p.authToken)
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := p.httpClient.Do(request)
	if err != nil {
		return Receipt{}, fmt.Errorf("twilio: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("twilio: read response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return Receipt{}, &HTTPError{StatusCode: response.StatusCode, Body: string(responseBody)}
	}

	var decoded twilioSendResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return Receipt{}, fmt.Errorf("twilio: decode response: %w", err)
	}
	if decoded.SID == "" {
		return Receipt{}, fmt.Errorf("twilio: response carried no message sid")
	}
	return Receipt{MessageID: decoded.SID}, nil
}
