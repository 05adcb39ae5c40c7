// Package deepgram provides an STT provider backed by Deepgram's pre-recorded
// transcription API (POST /v1/listen).
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultTimeout   = 30 * time.Second
	maxErrorBody     = 512
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the API endpoint, e.g. for a self-hosted deployment.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client. The default client has a 30 s
// timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// Provider implements stt.Provider backed by the Deepgram REST API.
//
// Deepgram does not expose sampling temperature or a free-text prompt, so
// those Options fields are ignored.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the audio as the raw request body and returns the first
// alternative of the first channel.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio, opts stt.Options) (stt.Result, error) {
	if len(a.Data) == 0 {
		return stt.Result{}, errors.New("deepgram: empty audio")
	}
	reqURL, err := p.buildURL(opts)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(a.Data))
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Token "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return stt.Result{}, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: read response body: %w", err)
	}
	res, err := parseDeepgramResponse(data)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}
	return res, nil
}

// buildURL constructs the listen endpoint URL for the given request options.
func (p *Provider) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	} else {
		q.Set("detect_language", "true")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by the pre-recorded API.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parseDeepgramResponse extracts the transcript from a pre-recorded API
// response. A response without channels or alternatives yields an empty text.
func parseDeepgramResponse(data []byte) (stt.Result, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, fmt.Errorf("parse JSON response: %w", err)
	}

	res := stt.Result{
		Duration: time.Duration(resp.Metadata.Duration * float64(time.Second)),
	}
	if len(resp.Results.Channels) == 0 {
		return res, nil
	}
	ch := resp.Results.Channels[0]
	res.Language = ch.DetectedLanguage
	if len(ch.Alternatives) > 0 {
		res.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
	}
	return res, nil
}
