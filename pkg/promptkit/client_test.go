package promptkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptkit/config"
	"promptkit/internal/core"
	"promptkit/internal/logging"
	"promptkit/pkg/pricing"
)

// fakeOpenAI records decoded request bodies and replies with a fixed body.
type fakeOpenAI struct {
	t      *testing.T
	calls  atomic.Int32
	mu     sync.Mutex
	bodies []map[string]any
	ids    []string
	status int
	reply  string
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("read body: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		f.t.Errorf("decode body: %v", err)
	}
	body["_path"] = r.URL.Path

	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.ids = append(f.ids, r.Header.Get("X-Client-Request-Id"))
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = w.Write([]byte(f.reply))
}

func (f *fakeOpenAI) lastBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		return nil
	}
	return f.bodies[len(f.bodies)-1]
}

func (f *fakeOpenAI) requestIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func newFake(t *testing.T, reply string) (*fakeOpenAI, *httptest.Server) {
	t.Helper()
	f := &fakeOpenAI{t: t, reply: reply}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return f, server
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	noRetries := 0
	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: baseURL, MaxRetries: &noRetries}, opts...)
	require.NoError(t, err)
	return c
}

func chatReply(content string, promptTokens, completionTokens int) string {
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o",
		"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		"usage":   map[string]any{"prompt_tokens": promptTokens, "completion_tokens": completionTokens, "total_tokens": promptTokens + completionTokens},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestNewClient_APIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("OPENAI_API_KEY", "sk-env")
	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Same(t, pricing.Default(), c.Prices())
}

func TestRunPrompt_Text(t *testing.T) {
	fake, server := newFake(t, chatReply("  The answer is 42.  \n", 1000, 1000))
	c := newTestClient(t, server.URL)

	result, err := c.RunPrompt(context.Background(), Text("What is the answer?"), CompletionConfig{Model: "gpt-4o"})
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42.", result.Text)
	assert.Equal(t, ParserText, result.Parser)
	assert.Nil(t, result.JSON)
	assert.Equal(t, 1000, result.Usage.InputTokens)
	assert.Equal(t, 1000, result.Usage.OutputTokens)
	assert.Equal(t, 2000, result.Usage.TotalTokens)
	assert.Equal(t, "0.02", result.Usage.Cost.String())
	assert.Equal(t, 0.02, result.Usage.Cost.Float64())
	assert.Positive(t, result.Usage.Delay)

	body := fake.lastBody()
	assert.Equal(t, "/chat/completions", body["_path"])
	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, float64(0), body["temperature"], "temperature defaults to 0 and is always sent")
	assert.NotContains(t, body, "response_format")
	assert.NotContains(t, body, "max_tokens")
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "What is the answer?"}}, body["messages"])

	require.NotEmpty(t, result.RequestID)
	assert.Equal(t, result.RequestID, fake.requestIDs()[0])
}

func TestRunPrompt_KeepsCallerRequestID(t *testing.T) {
	fake, server := newFake(t, chatReply("ok", 1, 1))
	c := newTestClient(t, server.URL)

	ctx := core.WithRequestID(context.Background(), "caller-id")
	result, err := c.RunPrompt(ctx, Text("hi"), CompletionConfig{Model: "gpt-4o-mini"})
	require.NoError(t, err)

	assert.Equal(t, "caller-id", result.RequestID)
	assert.Equal(t, "caller-id", fake.requestIDs()[0])
}

func TestRunPrompt_Messages(t *testing.T) {
	fake, server := newFake(t, chatReply("bonjour", 5, 1))
	c := newTestClient(t, server.URL)

	_, err := c.RunPrompt(context.Background(), Messages{
		{Role: RoleSystem, Content: "Translate to French."},
		{Role: RoleUser, Content: "hello"},
	}, CompletionConfig{Model: "gpt-4o", Temperature: 0.7, MaxTokens: 16, User: "u-1"})
	require.NoError(t, err)

	body := fake.lastBody()
	assert.Equal(t, []any{
		map[string]any{"role": "system", "content": "Translate to French."},
		map[string]any{"role": "user", "content": "hello"},
	}, body["messages"])
	assert.Equal(t, 0.7, body["temperature"])
	assert.Equal(t, float64(16), body["max_tokens"])
	assert.Equal(t, "u-1", body["user"])
}

func TestRunPrompt_JSON(t *testing.T) {
	fake, server := newFake(t, chatReply("Sure!\n```json\n{\"name\": \"widget\", \"price\": 9.5}\n```", 12, 8))
	c := newTestClient(t, server.URL)

	result, err := c.RunPrompt(context.Background(), Text("describe"), CompletionConfig{Model: "gpt-4o", Parser: ParserJSON})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "widget", "price": 9.5}, result.JSON)
	assert.Empty(t, result.Text)
	assert.Equal(t, map[string]any{"type": "json_object"}, fake.lastBody()["response_format"])

	var decoded struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	require.NoError(t, result.Decode(&decoded))
	assert.Equal(t, "widget", decoded.Name)
	assert.Equal(t, 9.5, decoded.Price)
}

func TestRunPrompt_JSONNotFoundLogsWarning(t *testing.T) {
	_, server := newFake(t, chatReply("I cannot answer that.", 3, 5))

	var buf bytes.Buffer
	c := newTestClient(t, server.URL, WithLogger(logging.New(&buf, logging.FormatJSON, slog.LevelWarn)))

	result, err := c.RunPrompt(context.Background(), Text("json please"), CompletionConfig{Model: "gpt-4o", Parser: ParserJSON})
	require.NoError(t, err)

	assert.NotNil(t, result.JSON)
	assert.Empty(t, result.JSON)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "invalid JSON response from OpenAI", entry["msg"])
	assert.Equal(t, "I cannot answer that.", entry["raw"])
	assert.Equal(t, result.RequestID, entry["request_id"])
}

func TestRunPrompt_CSV(t *testing.T) {
	_, server := newFake(t, chatReply("```\ncity,population\nParis,2100000\nLyon,520000\n```", 10, 10))
	c := newTestClient(t, server.URL)

	result, err := c.RunPrompt(context.Background(), Text("cities"), CompletionConfig{Model: "gpt-4o", Parser: ParserCSV})
	require.NoError(t, err)

	assert.Equal(t, []map[string]any{
		{"city": "Paris", "population": float64(2100000)},
		{"city": "Lyon", "population": float64(520000)},
	}, result.Records)
}

func TestRunPrompt_MissingUsage(t *testing.T) {
	_, server := newFake(t, `{"choices": [{"message": {"role": "assistant", "content": "hi"}}]}`)
	c := newTestClient(t, server.URL)

	result, err := c.RunPrompt(context.Background(), Text("hi"), CompletionConfig{Model: "gpt-4o"})
	require.NoError(t, err)

	assert.Zero(t, result.Usage.InputTokens)
	assert.Zero(t, result.Usage.TotalTokens)
	assert.True(t, result.Usage.Cost.IsZero())
}

func TestRunPrompt_NoChoices(t *testing.T) {
	_, server := newFake(t, `{"choices": []}`)
	c := newTestClient(t, server.URL)

	result, err := c.RunPrompt(context.Background(), Text("hi"), CompletionConfig{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Empty(t, result.Text)
}

func TestRunPrompt_UnknownModelFailsBeforeCall(t *testing.T) {
	fake, server := newFake(t, chatReply("ok", 1, 1))
	c := newTestClient(t, server.URL)

	_, err := c.RunPrompt(context.Background(), Text("hi"), CompletionConfig{Model: "gpt-unknown"})

	var notFound *pricing.PriceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "gpt-unknown", notFound.Key)
	assert.Zero(t, fake.calls.Load())
}

func TestRunPrompt_InvalidInput(t *testing.T) {
	fake, server := newFake(t, chatReply("ok", 1, 1))
	c := newTestClient(t, server.URL)

	_, err := c.RunPrompt(context.Background(), Text("hi"), CompletionConfig{Model: "gpt-4o", Parser: "yaml"})
	assert.ErrorIs(t, err, ErrUnknownParser)

	_, err = c.RunPrompt(context.Background(), Text("hi"), CompletionConfig{})
	var apiErr *core.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, apiErr.Type)

	_, err = c.RunPrompt(context.Background(), nil, CompletionConfig{Model: "gpt-4o"})
	assert.Error(t, err)

	assert.Zero(t, fake.calls.Load())
}

func TestRunPrompt_UpstreamError(t *testing.T) {
	fake, server := newFake(t, `{"error": {"message": "Incorrect API key provided"}}`)
	fake.status = http.StatusUnauthorized
	c := newTestClient(t, server.URL)

	_, err := c.RunPrompt(context.Background(), Text("hi"), CompletionConfig{Model: "gpt-4o"})

	var apiErr *core.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, core.ErrorTypeAuthentication, apiErr.Type)
	assert.Contains(t, apiErr.Error(), "Incorrect API key")
}

func TestRunPrompt_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := newTestClient(t, server.URL)

	start := time.Now()
	_, err := c.RunPrompt(context.Background(), Text("slow"), CompletionConfig{
		Model:          "gpt-4o",
		RequestOptions: RequestOptions{Timeout: 50 * time.Millisecond},
	})

	var apiErr *core.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, core.ErrorTypeTimeout, apiErr.Type)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunPrompt_Concurrent(t *testing.T) {
	fake, server := newFake(t, chatReply(`{"ok": true}`, 100, 50))
	c := newTestClient(t, server.URL)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := c.RunPrompt(context.Background(), Text("go"), CompletionConfig{Model: "gpt-4o-mini", Parser: ParserJSON})
			if err != nil {
				errs <- err
				return
			}
			if result.Usage.Cost.String() != "0.000045" {
				errs <- errors.New("unexpected cost " + result.Usage.Cost.String())
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, int32(workers), fake.calls.Load())
}

func TestGenerateImage_DallE3Defaults(t *testing.T) {
	fake, server := newFake(t, `{"created": 1700000000, "data": [{"url": "https://img.example/1.png", "revised_prompt": "a red fox"}]}`)
	c := newTestClient(t, server.URL)

	result, err := c.GenerateImage(context.Background(), "a fox", ImageConfig{Model: "dall-e-3"})
	require.NoError(t, err)

	body := fake.lastBody()
	assert.Equal(t, "/images/generations", body["_path"])
	assert.Equal(t, float64(1), body["n"])
	assert.Equal(t, "1024x1024", body["size"])
	assert.Equal(t, "url", body["response_format"])
	assert.Equal(t, "standard", body["quality"])
	assert.Equal(t, "vivid", body["style"])
	assert.Equal(t, "a fox", body["prompt"])

	assert.Equal(t, "https://img.example/1.png", result.URL)
	assert.Equal(t, "a red fox", result.RevisedPrompt)
	assert.Equal(t, "0.04", result.Usage.Cost.String())
	assert.Equal(t, "standard", result.Quality)
	assert.NotEmpty(t, result.RequestID)
}

func TestGenerateImage_DallE3Explicit(t *testing.T) {
	fake, server := newFake(t, `{"data": [{"b64_json": "aGVsbG8="}]}`)
	c := newTestClient(t, server.URL)

	result, err := c.GenerateImage(context.Background(), "a fox", ImageConfig{
		Model:          "dall-e-3",
		Size:           "1792x1024",
		Quality:        "hd",
		Style:          "natural",
		ResponseFormat: "b64_json",
	})
	require.NoError(t, err)

	body := fake.lastBody()
	assert.Equal(t, "hd", body["quality"])
	assert.Equal(t, "natural", body["style"])
	assert.Equal(t, "b64_json", body["response_format"])
	assert.Equal(t, "aGVsbG8=", result.B64JSON)
	assert.Equal(t, "0.12", result.Usage.Cost.String())
}

func TestGenerateImage_OtherModelsSendNoQualityOrStyle(t *testing.T) {
	fake, server := newFake(t, `{"data": [{"url": "https://img.example/2.png"}]}`)
	c := newTestClient(t, server.URL)

	result, err := c.GenerateImage(context.Background(), "a dog", ImageConfig{
		Model:   "dall-e-2",
		Size:    "512x512",
		Quality: "hd",
		Style:   "vivid",
	})
	require.NoError(t, err)

	body := fake.lastBody()
	assert.NotContains(t, body, "quality")
	assert.NotContains(t, body, "style")
	assert.Equal(t, "0.018", result.Usage.Cost.String())
}

func TestGenerateImage_NoImage(t *testing.T) {
	_, server := newFake(t, `{"created": 1700000000, "data": []}`)
	c := newTestClient(t, server.URL)

	_, err := c.GenerateImage(context.Background(), "nothing", ImageConfig{Model: "dall-e-3"})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestGenerateImage_UnknownPriceFailsBeforeCall(t *testing.T) {
	fake, server := newFake(t, `{"data": [{"url": "x"}]}`)
	c := newTestClient(t, server.URL)

	_, err := c.GenerateImage(context.Background(), "a cat", ImageConfig{Model: "dall-e-2", Size: "4096x4096"})

	var notFound *pricing.PriceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, pricing.KindImage, notFound.Kind)
	assert.Equal(t, "dall-e-2|4096x4096", notFound.Key)
	assert.Zero(t, fake.calls.Load())
}

func TestWithMetrics(t *testing.T) {
	_, server := newFake(t, chatReply("ok", 1000, 1000))
	reg := prometheus.NewRegistry()
	c := newTestClient(t, server.URL, WithMetrics(reg))

	_, err := c.RunPrompt(context.Background(), Text("hi"), CompletionConfig{Model: "gpt-4o"})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "promptkit_provider_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(reg, "promptkit_cost_usd_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = NewClient(Config{APIKey: "sk"}, WithMetrics(reg))
	assert.Error(t, err, "collectors are already registered")
}

func TestFromConfig(t *testing.T) {
	_, server := newFake(t, chatReply("ok", 1000, 0))

	path := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("completion:\n  in-house-model: { input: 0.5, output: 1 }\n"), 0o600))

	cfg := &config.Config{
		OpenAI:  config.OpenAIConfig{APIKey: "sk-cfg", BaseURL: server.URL},
		Client:  config.ClientConfig{Timeout: 5 * time.Second},
		Pricing: config.PricingConfig{File: path},
	}
	c, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.timeout)

	result, err := c.RunPrompt(context.Background(), Text("hi"), CompletionConfig{Model: "in-house-model"})
	require.NoError(t, err)
	assert.Equal(t, "0.5", result.Usage.Cost.String())

	_, err = c.Prices().CompletionPrice("gpt-4o")
	assert.NoError(t, err, "built-in prices survive the merge")

	cfg.Pricing.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = FromConfig(cfg)
	assert.Error(t, err)
}
