package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	metaProviderName   = "meta"
	defaultMetaBaseURL = "https://graph.facebook.com/v19.0"
)

// MetaConfig configures the Meta cloud API provider.
type MetaConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	HTTPClient    *http.Client
}

// metaProvider delivers text messages through the Meta cloud messaging API.
type metaProvider struct {
	accessToken   string
	phoneNumberID string
	baseURL       string
	httpClient    *http.Client
}

// NewMetaProvider constructs the Meta cloud API provider.
func NewMetaProvider(cfg MetaConfig) Provider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultMetaBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &metaProvider{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       baseURL,
		httpClient:    httpClient,
	}
}

func (p *metaProvider) Name() string {
	return metaProviderName
}

type metaSendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             metaSendText `json:"text"`
}

type metaSendText struct {
	Body string `json:"body"`
}

type metaSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (p *metaProvider) Send(ctx context.Context, recipient, message string) (Receipt, error) {
	payload := metaSendRequest{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
		Text:             metaSendText{Body: message},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, err
	}

	endpoint := fmt.Sprintf("%s/%s/messages", p.baseURL, p.phoneNumberID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	request.Header.Set("Authorization", "Bearer "+p.accessToken)
	request.Header.Set("Content-Type", "application/json")

	response, err := p.httpClient.Do(request)
	if err != nil {
		return Receipt{}, fmt.Errorf("meta: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("meta: read response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return Receipt{}, &HTTPError{StatusCode: response.StatusCode, Body: string(responseBody)}
	}

	var decoded metaSendResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return Receipt{}, fmt.Errorf("meta: decode response: %w", err)
	}
	if len(decoded.Messages) == 0 {
		return Receipt{}, fmt.Errorf("meta: response carried no message id")
	}
	return Receipt{MessageID: decoded.Messages[0].ID}, nil
}
