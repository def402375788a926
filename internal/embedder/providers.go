package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider configuration
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultGeminiModel = "gemini-embedding-001"
	DefaultOpenAIModel = "text-embedding-3-small"

	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

	// LocalDimension is the length of vectors produced by LocalProvider
	LocalDimension = 3072

	defaultHTTPTimeout = 30 * time.Second
)

// GeminiProvider calls the Gemini embedContent REST endpoint
type GeminiProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiProvider creates a Gemini embedder. Empty model and baseURL use the defaults.
func NewGeminiProvider(apiKey, model, baseURL string, timeout time.Duration) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini", ErrNoAPIKey)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &GeminiProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (g *GeminiProvider) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	reqBody := map[string]interface{}{
		"model": "models/" + g.model,
		"content": map[string]interface{}{
			"parts": []map[string]string{{"text": text}},
		},
		"taskType": string(task),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var apiResp struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("api returned an empty embedding")
	}

	return apiResp.Embedding.Values, nil
}

func (g *GeminiProvider) Name() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIProvider embeds through langchaingo against any OpenAI-compatible host
type OpenAIProvider struct {
	embedder embeddings.Embedder
	model    string
}

// NewOpenAIProvider creates an OpenAI embedder. baseURL may point at a compatible local service.
func NewOpenAIProvider(apiKey, model, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("%w: openai", ErrNoAPIKey)
	}
	if apiKey == "" {
		// local OpenAI-compatible services do not check the token
		apiKey = "none"
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &OpenAIProvider{embedder: embedder, model: model}, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	if task == TaskQuery {
		return o.embedder.EmbedQuery(ctx, text)
	}

	vectors, err := o.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("api returned no embedding")
	}
	return vectors[0], nil
}

func (o *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}

// LocalProvider derives deterministic pseudo-embeddings from a text hash.
// It has no semantic value and exists for offline development.
type LocalProvider struct{}

// NewLocalProvider creates a new local embedder
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Embed(_ context.Context, text string, task TaskType) ([]float32, error) {
	vector := make([]float32, LocalDimension)
	seed := sha256.Sum256([]byte(string(task) + "|" + text))
	block := seed
	for i := 0; i < LocalDimension; i++ {
		off := (i * 4) % len(block)
		if off == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		v := binary.LittleEndian.Uint32(block[off : off+4])
		vector[i] = float32(v)/float32(^uint32(0))*2 - 1
	}
	return vector, nil
}

func (l *LocalProvider) Name() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return "local-hash"
}

func (l *LocalProvider) Close() error {
	return nil
}
