// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST API
// at POST /inference accepting a multipart WAV upload. [NativeProvider] loads a
// GGML model in-process through the whisper.cpp CGO bindings and needs no
// server at all.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithModel("base.en"))
//	res, err := p.Transcribe(ctx, stt.WAV(pcm, audio.SpeechFormat), stt.Options{Language: "en"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

const (
	// autoLanguage asks whisper.cpp to detect the spoken language.
	autoLanguage   = "auto"
	defaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response is echoed into errors.
	maxErrorBody = 512
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient replaces the HTTP client. The default client has a 30 s
// timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// It is stateless apart from its configuration and safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// inferenceResponse is the JSON body returned by whisper-server for
// response_format=json.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Transcribe POSTs the audio to the /inference endpoint as multipart/form-data
// and returns the recognised text.
//
// An empty opts.Language is sent as "auto" so the server detects the language.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio, opts stt.Options) (stt.Result, error) {
	body, contentType, err := p.buildForm(a, opts)
	if err != nil {
		return stt.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return stt.Result{}, fmt.Errorf("whisper: server error: %s", result.Error)
	}

	return stt.Result{Text: strings.TrimSpace(result.Text)}, nil
}

// buildForm encodes the audio file and recognition hints as a multipart body.
func (p *Provider) buildForm(a stt.Audio, opts stt.Options) (*bytes.Buffer, string, error) {
	if len(a.Data) == 0 {
		return nil, "", errors.New("whisper: empty audio")
	}
	name := a.Name
	if name == "" {
		name = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(a.Data); err != nil {
		return nil, "", fmt.Errorf("whisper: write audio data: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = autoLanguage
	}
	model := opts.Model
	if model == "" {
		model = p.model
	}

	fields := []struct{ key, value string }{
		{"response_format", "json"},
		{"temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64)},
		{"language", lang},
		{"model", model},
		{"prompt", opts.Prompt},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.key, f.value); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f.key, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
