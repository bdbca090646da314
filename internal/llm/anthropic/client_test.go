package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

func messageServer(t *testing.T, status int, text string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			var decoded map[string]any
			_ = json.Unmarshal(body, &decoded)
			*captured = decoded
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		resp := map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       DefaultModel,
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	var body map[string]any
	srv := messageServer(t, http.StatusOK, `{"summary":"ok"}`, &body)
	defer srv.Close()

	c, err := New(Config{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), inspection.ModelRequest{
		Instruction: "extract findings",
		SchemaHint:  "schema",
		Document:    []byte("%PDF"),
		Config: inspection.GenerationConfig{
			MaxOutputTokens:  400,
			TopK:             1,
			ResponseMIMEType: "application/json",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, out)

	assert.EqualValues(t, 400, body["max_tokens"])
	assert.EqualValues(t, 1, body["top_k"])
	raw, _ := json.Marshal(body["messages"])
	assert.Contains(t, string(raw), `"document"`)
	assert.Contains(t, string(raw), "JVBERg==")
	sys, _ := json.Marshal(body["system"])
	assert.Contains(t, string(sys), "extract findings")
}

func TestGenerateError(t *testing.T) {
	srv := messageServer(t, http.StatusTooManyRequests, "", nil)
	defer srv.Close()

	c, err := New(Config{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), inspection.ModelRequest{Document: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic generate")
}

func TestBuildParamsDefaults(t *testing.T) {
	p := buildParams("m", inspection.ModelRequest{Document: []byte("x")})
	assert.Equal(t, int64(800), p.MaxTokens)
	assert.Empty(t, p.System)
	require.Len(t, p.Messages, 1)
	assert.Len(t, p.Messages[0].Content, 1)
}

func TestAnswer(t *testing.T) {
	var body map[string]any
	srv := messageServer(t, http.StatusOK, "Three recurring findings.", &body)
	defer srv.Close()

	c, err := New(Config{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)

	out, err := c.Answer(context.Background(), "what repeats?")
	require.NoError(t, err)
	assert.Equal(t, "Three recurring findings.", out)
	raw, _ := json.Marshal(body["messages"])
	assert.Contains(t, string(raw), "what repeats?")
	assert.NotContains(t, string(raw), `"document"`)
}
