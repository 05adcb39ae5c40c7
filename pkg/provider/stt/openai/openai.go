// Package openai provides an STT provider backed by an OpenAI-compatible
// /v1/audio/transcriptions endpoint.
//
// Besides the hosted OpenAI API this covers self-hosted servers that implement
// the same contract, such as faster-whisper-server or speaches.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// DefaultModel is the default transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI audio transcription API.
type Provider struct {
	client         oai.Client
	model          string
	responseFormat string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL        string
	organization   string
	timeout        time.Duration
	responseFormat string
	httpClient     *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g.
// "http://localhost:8000/v1/" for a local faster-whisper-server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithResponseFormat selects the response format ("json" or "verbose_json").
// verbose_json additionally reports the detected language and audio duration.
func WithResponseFormat(format string) Option {
	return func(c *config) {
		c.responseFormat = format
	}
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used. Self-hosted servers
// usually ignore apiKey but the SDK requires a non-empty value.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	switch cfg.responseFormat {
	case "", "json", "verbose_json":
	default:
		return nil, fmt.Errorf("openai stt: unsupported response format %q", cfg.responseFormat)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are driven by the caller's attempt variations.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, responseFormat: cfg.responseFormat}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio, opts stt.Options) (stt.Result, error) {
	if len(a.Data) == 0 {
		return stt.Result{}, errors.New("openai stt: transcribe: empty audio")
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, p.buildParams(a, opts))
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	res := stt.Result{Text: strings.TrimSpace(resp.Text)}
	if raw := resp.RawJSON(); raw != "" {
		var extra verboseFields
		if json.Unmarshal([]byte(raw), &extra) == nil {
			res.Language = extra.Language
			if extra.Duration > 0 && !math.IsInf(extra.Duration, 0) {
				res.Duration = time.Duration(extra.Duration * float64(time.Second))
			}
		}
	}
	return res, nil
}

// ModelID returns the configured model.
func (p *Provider) ModelID() string {
	return p.model
}

// buildParams maps a chunk and its attempt options onto the SDK request.
func (p *Provider) buildParams(a stt.Audio, opts stt.Options) oai.AudioTranscriptionNewParams {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	name := a.Name
	if name == "" {
		name = "chunk.wav"
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}

	params := oai.AudioTranscriptionNewParams{
		File:        oai.File(bytes.NewReader(a.Data), name, contentType),
		Model:       oai.AudioModel(model),
		Temperature: param.NewOpt(opts.Temperature),
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = param.NewOpt(opts.Prompt)
	}
	if p.responseFormat != "" {
		params.ResponseFormat = oai.AudioResponseFormat(p.responseFormat)
	}
	return params
}

// verboseFields are the verbose_json members the SDK's Transcription type does
// not expose.
type verboseFields struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}
