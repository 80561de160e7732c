package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syaikhipin/ipinproxy/internal/auth"
	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/multipart"
	"github.com/syaikhipin/ipinproxy/internal/registry"
	"github.com/syaikhipin/ipinproxy/internal/storage"
	"github.com/syaikhipin/ipinproxy/internal/storage/sqlite"
	"github.com/syaikhipin/ipinproxy/internal/tokens"
	"github.com/syaikhipin/ipinproxy/internal/transform"
	"github.com/syaikhipin/ipinproxy/internal/upstream"
)

var dbSeq atomic.Int64

// proxyEnv is a fully wired proxy in front of a stub provider.
type proxyEnv struct {
	ts    *httptest.Server
	store storage.Store
}

// newProxy assembles the router against the given route table, backed by an
// in-memory store seeded with one user and the key "ipk-valid" (unscoped
// unless keys overrides it).
func newProxy(t *testing.T, providers []registry.Provider, models []registry.Model, keys []storage.APIKey) *proxyEnv {
	t.Helper()
	transform.RegisterDefaults()

	st, err := sqlite.New(fmt.Sprintf("file:srvdb%d?mode=memory&cache=shared", dbSeq.Add(1)))
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	users := []storage.User{{ID: "u1", Name: "ipin", Enabled: true}}
	if keys == nil {
		keys = []storage.APIKey{{
			ID:      "k1",
			UserID:  "u1",
			KeyHash: auth.HashAPIKey("ipk-valid"),
			Enabled: true,
		}}
	}
	for i := range users {
		if err := st.CreateUser(ctx, &users[i]); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	for i := range keys {
		if err := st.CreateAPIKey(ctx, &keys[i]); err != nil {
			t.Fatalf("CreateAPIKey() error = %v", err)
		}
	}

	reg := registry.New()
	if err := reg.Load(providers, models); err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}

	authenticator := auth.NewAuthenticator()
	authenticator.Load(users, keys)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := NewHandlers(reg, tokens.NewRegistry(), st, upstream.NewClient(), upstream.NewClient(), logger)

	srv := New(Options{
		Port:          0,
		Logger:        logger,
		Authenticator: authenticator,
		Handlers:      handlers,
		Timeout:       10 * time.Second,
		MediaTimeout:  10 * time.Second,
	})

	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)

	return &proxyEnv{ts: ts, store: st}
}

func openaiRoutes(baseURL string) ([]registry.Provider, []registry.Model) {
	providers := []registry.Provider{
		{ID: "p1", Name: "openrouter", Kind: transform.KindOpenAI, BaseURL: baseURL, APIKey: "sk-upstream", Enabled: true},
	}
	models := []registry.Model{
		{ID: "m1", Name: "gpt-4o", ProviderID: "p1", UpstreamModel: "openai/gpt-4o", SupportsImageUpload: true, Enabled: true},
		{ID: "m2", Name: "whisper-1", ProviderID: "p1", UpstreamModel: "openai/whisper-large", Enabled: true},
		{ID: "m3", Name: "text-only", ProviderID: "p1", UpstreamModel: "openai/text-only", Enabled: true},
	}
	return providers, models
}

func (e *proxyEnv) post(t *testing.T, path, contentType string, body []byte, apiKey string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return body
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("body %s is not an error envelope: %v", body, err)
	}
	return envelope.Error.Code
}

func TestChatCompletionsEndToEnd(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"gen-1","object":"chat.completion","created":1787000000,"model":"openai/gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Jakarta."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	}))
	defer stub.Close()

	providers, models := openaiRoutes(stub.URL)
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/chat/completions", "application/json",
		[]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"capital of Indonesia?"}],"temperature":0.2}`),
		"ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, body)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("upstream path = %q, want /chat/completions", gotPath)
	}
	if gotAuth != "Bearer sk-upstream" {
		t.Errorf("upstream auth = %q, want provider key", gotAuth)
	}
	if gotPayload["model"] != "openai/gpt-4o" {
		t.Errorf("upstream model = %v, want openai/gpt-4o", gotPayload["model"])
	}
	if gotPayload["temperature"] != 0.2 {
		t.Errorf("temperature not passed through, got %v", gotPayload["temperature"])
	}

	var chatResp domain.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		t.Fatalf("response is not a chat completion: %v", err)
	}
	if len(chatResp.Choices) != 1 || chatResp.Choices[0].Message.Content != "Jakarta." {
		t.Errorf("choices = %+v, want one with content Jakarta.", chatResp.Choices)
	}
	if chatResp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", chatResp.Usage.TotalTokens)
	}

	rows, err := env.store.UsageByModel(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("UsageByModel() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Model != "gpt-4o" || rows[0].TotalTokens != 15 {
		t.Errorf("usage rows = %+v, want one gpt-4o row with 15 tokens", rows)
	}

	key, err := env.store.GetAPIKey(context.Background(), "k1")
	if err != nil {
		t.Fatalf("GetAPIKey() error = %v", err)
	}
	if key.LastUsedAt == nil {
		t.Error("LastUsedAt not stamped after a proxied request")
	}
}

func TestChatCompletionsAuthRequired(t *testing.T) {
	providers, models := openaiRoutes("http://127.0.0.1:0")
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/chat/completions", "application/json",
		[]byte(`{"model":"gpt-4o","messages":[]}`), "")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401; body: %s", resp.StatusCode, body)
	}
}

func TestChatCompletionsModelNotFound(t *testing.T) {
	providers, models := openaiRoutes("http://127.0.0.1:0")
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/chat/completions", "application/json",
		[]byte(`{"model":"unknown","messages":[{"role":"user","content":"hi"}]}`), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "model_not_found" {
		t.Errorf("code = %q, want model_not_found", code)
	}
}

func TestChatCompletionsModelNotAllowed(t *testing.T) {
	providers, models := openaiRoutes("http://127.0.0.1:0")
	keys := []storage.APIKey{{
		ID:            "k-scoped",
		UserID:        "u1",
		KeyHash:       auth.HashAPIKey("ipk-valid"),
		AllowedModels: []string{"text-only"},
		Enabled:       true,
	}}
	env := newProxy(t, providers, models, keys)

	resp := env.post(t, "/v1/chat/completions", "application/json",
		[]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "model_not_allowed" {
		t.Errorf("code = %q, want model_not_allowed", code)
	}
}

func TestChatCompletionsUpstreamErrorPassthrough(t *testing.T) {
	upstreamBody := `{"error":{"message":"rate limited","type":"rate_limit_error","code":"429"}}`
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, upstreamBody)
	}))
	defer stub.Close()

	providers, models := openaiRoutes(stub.URL)
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/chat/completions", "application/json",
		[]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if string(body) != upstreamBody {
		t.Errorf("body = %s, want upstream body verbatim", body)
	}
}

func TestChatCompletionsEstimatesMissingUsage(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `"a bare string reply"`)
	}))
	defer stub.Close()

	providers, models := openaiRoutes(stub.URL)
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/chat/completions", "application/json",
		[]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"say something"}]}`), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, body)
	}

	var chatResp domain.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		t.Fatalf("response is not a chat completion: %v", err)
	}
	if len(chatResp.Choices) != 1 || chatResp.Choices[0].Message.Content != "a bare string reply" {
		t.Errorf("choices = %+v, want the bare string as content", chatResp.Choices)
	}
	// Estimation feeds the usage log only, never the response.
	if chatResp.Usage.TotalTokens != 0 {
		t.Errorf("response TotalTokens = %d, want 0", chatResp.Usage.TotalTokens)
	}

	rows, err := env.store.UsageByModel(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("UsageByModel() error = %v", err)
	}
	if len(rows) != 1 || rows[0].TotalTokens == 0 {
		t.Errorf("usage rows = %+v, want one row with estimated tokens", rows)
	}
}

func TestChatCompletionsCapabilityGate(t *testing.T) {
	providers, models := openaiRoutes("http://127.0.0.1:0")
	env := newProxy(t, providers, models, nil)

	payload := `{"model":"text-only","messages":[{"role":"user","content":[
		{"type":"text","text":"describe"},
		{"type":"image_url","image_url":{"url":"https://example.com/cat.png"}}]}]}`

	resp := env.post(t, "/v1/chat/completions", "application/json", []byte(payload), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "image_upload_not_supported" {
		t.Errorf("code = %q, want image_upload_not_supported", code)
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["stream"] != true {
			t.Errorf("upstream stream = %v, want true", payload["stream"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, chunk := range []string{"Ja", "karta"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", chunk)
			fl.Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
		fl.Flush()
	}))
	defer stub.Close()

	providers, models := openaiRoutes(stub.URL)
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/chat/completions", "application/json",
		[]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"capital?"}],"stream":true}`), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	for _, want := range []string{`"content":"Ja"`, `"content":"karta"`, "data: [DONE]"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("stream missing %q\ngot: %s", want, body)
		}
	}
}

func TestEmbeddingsPassthroughAndContract(t *testing.T) {
	upstreamBody := `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]}],"model":"openai/embed","usage":{"prompt_tokens":8,"total_tokens":8}}`
	var gotModel string
	var calls atomic.Int64
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		gotModel, _ = payload["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		// Second call returns a response that violates the data contract.
		if calls.Add(1) > 1 {
			io.WriteString(w, `{"object":"list","data":[]}`)
			return
		}
		io.WriteString(w, upstreamBody)
	}))
	defer stub.Close()

	providers, models := openaiRoutes(stub.URL)
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/embeddings", "application/json",
		[]byte(`{"model":"gpt-4o","input":"halo dunia"}`), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, body)
	}
	if gotModel != "openai/gpt-4o" {
		t.Errorf("upstream model = %q, want openai/gpt-4o", gotModel)
	}
	if string(body) != upstreamBody {
		t.Errorf("body = %s, want upstream body verbatim", body)
	}

	resp = env.post(t, "/v1/embeddings", "application/json",
		[]byte(`{"model":"gpt-4o","input":"halo"}`), "ipk-valid")
	body = readBody(t, resp)

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 on empty data array; body: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "transformation_error") {
		t.Errorf("body = %s, want a transformation error", body)
	}
}

func TestRerankAcceptsResultsShape(t *testing.T) {
	upstreamBody := `{"model":"openai/gpt-4o","results":[{"index":1,"relevance_score":0.92},{"index":0,"relevance_score":0.41}]}`
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("upstream path = %q, want /rerank", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, upstreamBody)
	}))
	defer stub.Close()

	providers, models := openaiRoutes(stub.URL)
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/rerank", "application/json",
		[]byte(`{"model":"gpt-4o","query":"ibukota","documents":["Jakarta","Bandung"]}`), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, body)
	}
	if string(body) != upstreamBody {
		t.Errorf("body = %s, want upstream body verbatim", body)
	}
}

func TestTranscriptionsMultipartRoundTrip(t *testing.T) {
	audio := []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0xff, 0x10, 0x0a}
	var gotModel, gotLanguage string
	var gotFile []byte
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("upstream path = %q, want /audio/transcriptions", r.URL.Path)
		}
		boundary, err := multipart.BoundaryFromContentType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("upstream body is not multipart: %v", err)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		form, err := multipart.Decode(raw, boundary)
		if err != nil {
			t.Errorf("decoding upstream multipart: %v", err)
			return
		}
		gotModel = form.Value("model")
		gotLanguage = form.Value("language")
		if file, ok := form.File("file"); ok {
			gotFile = file.Data
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"halo dunia"}`)
	}))
	defer stub.Close()

	providers, models := openaiRoutes(stub.URL)
	env := newProxy(t, providers, models, nil)

	boundary := multipart.NewBoundary()
	reqBody := multipart.Encode([]multipart.Part{
		{Name: "file", Filename: "clip.wav", ContentType: "audio/wav", Data: audio},
		{Name: "model", Data: []byte("whisper-1")},
		{Name: "language", Data: []byte("id")},
	}, boundary)

	resp := env.post(t, "/v1/audio/transcriptions",
		"multipart/form-data; boundary="+boundary, reqBody, "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, body)
	}
	if string(body) != `{"text":"halo dunia"}` {
		t.Errorf("body = %s, want upstream transcription verbatim", body)
	}
	if gotModel != "openai/whisper-large" {
		t.Errorf("upstream model = %q, want openai/whisper-large", gotModel)
	}
	if gotLanguage != "id" {
		t.Errorf("upstream language = %q, want id", gotLanguage)
	}
	if !bytes.Equal(gotFile, audio) {
		t.Errorf("upstream file bytes = %v, want %v", gotFile, audio)
	}
}

func TestTranscriptionsRejectsMissingModel(t *testing.T) {
	providers, models := openaiRoutes("http://127.0.0.1:0")
	env := newProxy(t, providers, models, nil)

	boundary := multipart.NewBoundary()
	reqBody := multipart.Encode([]multipart.Part{
		{Name: "file", Filename: "clip.wav", ContentType: "audio/wav", Data: []byte{1, 2, 3}},
	}, boundary)

	resp := env.post(t, "/v1/audio/transcriptions",
		"multipart/form-data; boundary="+boundary, reqBody, "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body: %s", resp.StatusCode, body)
	}
}

func TestTranscriptionsRejectsBadMultipart(t *testing.T) {
	providers, models := openaiRoutes("http://127.0.0.1:0")
	env := newProxy(t, providers, models, nil)

	resp := env.post(t, "/v1/audio/transcriptions",
		"multipart/form-data; boundary=b", []byte("not multipart at all"), "ipk-valid")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "invalid_multipart_data" {
		t.Errorf("code = %q, want invalid_multipart_data", code)
	}
}

func TestListModelsFilteredByAllowlist(t *testing.T) {
	providers, models := openaiRoutes("http://127.0.0.1:0")
	keys := []storage.APIKey{{
		ID:            "k-scoped",
		UserID:        "u1",
		KeyHash:       auth.HashAPIKey("ipk-valid"),
		AllowedModels: []string{"whisper-1"},
		Enabled:       true,
	}}
	env := newProxy(t, providers, models, keys)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/models", nil)
	req.Header.Set("Authorization", "Bearer ipk-valid")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := readBody(t, resp)

	var list domain.ModelList
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("response is not a model list: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != "whisper-1" {
		t.Errorf("models = %+v, want only whisper-1", list.Data)
	}
}

func TestHealthzBypassesAuth(t *testing.T) {
	providers, models := openaiRoutes("http://127.0.0.1:0")
	env := newProxy(t, providers, models, nil)

	resp, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
