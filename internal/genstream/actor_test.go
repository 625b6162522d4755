package genstream

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/config"
	"github.com/RemilRLs/KnowHub/internal/jobs"
	"github.com/RemilRLs/KnowHub/internal/llm"
	"github.com/RemilRLs/KnowHub/internal/vectorstore"
)

type fakeRetriever struct {
	tables map[string]bool
	rows   []vectorstore.Row
	err    error
}

func (f *fakeRetriever) TableExists(_ context.Context, name string) (bool, error) {
	return f.tables[name], nil
}

func (f *fakeRetriever) ReadEmbeddings(_ context.Context, _ string, _ []float32, _ int, _ vectorstore.SearchOptions) ([]vectorstore.Row, error) {
	return f.rows, f.err
}

type fakeQueryEmbedder struct{}

func (fakeQueryEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

// fakeLLM optionally streams; tokens is the scripted output. The options
// of the last call are kept for assertions.
type fakeLLM struct {
	tokens    []string
	streaming bool
	err       error
	lastOpts  llm.Options
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) GenerateChat(_ context.Context, _ []llm.Message, opts llm.Options) (string, error) {
	f.lastOpts = opts
	if f.err != nil {
		return "", f.err
	}
	var all string
	for _, t := range f.tokens {
		all += t
	}
	return all, nil
}

type streamingFakeLLM struct{ fakeLLM }

func (f *streamingFakeLLM) StreamChat(_ context.Context, _ []llm.Message, opts llm.Options, fn func(string) error) error {
	f.lastOpts = opts
	if f.err != nil {
		return f.err
	}
	for _, t := range f.tokens {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func testGenService(t *testing.T, store Retriever, client llm.Client) (*Service, *miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dataDir := t.TempDir()
	cfg := &config.Config{LLMModel: "m", LLMMaxTokens: 2048, LLMTemperature: 0.7, DataDir: dataDir}
	svc := NewService(store, fakeQueryEmbedder{}, client,
		NewEventLog(rdb), NewSessionWriter(dataDir), cfg, zap.NewNop())
	return svc, mr, dataDir
}

func streamEnvelope(t *testing.T, p GeneratePayload) jobs.Envelope {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return jobs.Envelope{JobID: p.JobID, Payload: raw}
}

func collectEvents(t *testing.T, svc *Service, jobID string) []Event {
	t.Helper()
	events, err := svc.events.Read(context.Background(), jobID, "0-0", 100, time.Millisecond)
	require.NoError(t, err)
	return events
}

func TestStreamHappyPath(t *testing.T) {
	store := &fakeRetriever{
		tables: map[string]bool{"docs": true},
		rows: []vectorstore.Row{
			{ID: 1, Text: "IAM basics", Source: "iam.pdf", Page: 1, Distance: 0.1},
		},
	}
	client := &streamingFakeLLM{fakeLLM{tokens: []string{"IAM ", "controls ", "access [1]."}}}
	svc, _, dataDir := testGenService(t, store, client)

	_, err := svc.GenerateAnswerStream(context.Background(), streamEnvelope(t, GeneratePayload{
		JobID: "stream-1", Query: "what is IAM?", Collection: "docs", K: 2,
	}))
	require.NoError(t, err)

	events := collectEvents(t, svc, "stream-1")
	require.Len(t, events, 4)
	for _, ev := range events[:3] {
		assert.Equal(t, EventToken, ev.Type)
	}
	assert.Equal(t, EventDone, events[3].Type)

	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[3].Data), &done))
	assert.Equal(t, float64(1), done["retrieved_chunks"])
	assert.Equal(t, []any{"iam.pdf"}, done["sources"])
	assert.Contains(t, done, "chunk_map")

	// Session persisted with the assembled answer.
	body, err := os.ReadFile(filepath.Join(dataDir, "sessions", "stream-1.json"))
	require.NoError(t, err)
	var sess Session
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, "IAM controls access [1].", sess.Answer)
	assert.Equal(t, []string{"iam.pdf"}, sess.Sources)
}

func TestStreamMissingCollection(t *testing.T) {
	store := &fakeRetriever{tables: map[string]bool{}}
	svc, _, dataDir := testGenService(t, store, &fakeLLM{})

	_, err := svc.GenerateAnswerStream(context.Background(), streamEnvelope(t, GeneratePayload{
		JobID: "stream-2", Query: "q", Collection: "ghost",
	}))
	require.NoError(t, err)

	events := collectEvents(t, svc, "stream-2")
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Data, "ghost")

	// Failed streams persist nothing.
	_, err = os.Stat(filepath.Join(dataDir, "sessions", "stream-2.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestStreamEmptyRetrieval(t *testing.T) {
	store := &fakeRetriever{tables: map[string]bool{"docs": true}}
	svc, _, _ := testGenService(t, store, &fakeLLM{})

	_, err := svc.GenerateAnswerStream(context.Background(), streamEnvelope(t, GeneratePayload{
		JobID: "stream-3", Query: "q", Collection: "docs",
	}))
	require.NoError(t, err)

	events := collectEvents(t, svc, "stream-3")
	require.Len(t, events, 2)
	assert.Equal(t, EventToken, events[0].Type)
	assert.Equal(t, emptyKnowledgeAnswer, events[0].Data)
	assert.Equal(t, EventDone, events[1].Type)

	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[1].Data), &done))
	assert.Equal(t, float64(0), done["retrieved_chunks"])
}

func TestStreamNonStreamingProviderFallsBack(t *testing.T) {
	store := &fakeRetriever{
		tables: map[string]bool{"docs": true},
		rows:   []vectorstore.Row{{ID: 1, Text: "t", Source: "s.pdf"}},
	}
	// fakeLLM does not implement Streamer.
	svc, _, _ := testGenService(t, store, &fakeLLM{tokens: []string{"whole ", "answer"}})

	_, err := svc.GenerateAnswerStream(context.Background(), streamEnvelope(t, GeneratePayload{
		JobID: "stream-4", Query: "q", Collection: "docs",
	}))
	require.NoError(t, err)

	events := collectEvents(t, svc, "stream-4")
	require.Len(t, events, 2)
	assert.Equal(t, "whole answer", events[0].Data)
	assert.Equal(t, EventDone, events[1].Type)
}

func TestStreamLLMFailurePublishesError(t *testing.T) {
	store := &fakeRetriever{
		tables: map[string]bool{"docs": true},
		rows:   []vectorstore.Row{{ID: 1, Text: "t", Source: "s.pdf"}},
	}
	client := &streamingFakeLLM{fakeLLM{err: errors.New("model overloaded")}}
	svc, _, _ := testGenService(t, store, client)

	_, err := svc.GenerateAnswerStream(context.Background(), streamEnvelope(t, GeneratePayload{
		JobID: "stream-5", Query: "q", Collection: "docs",
	}))
	require.NoError(t, err)

	events := collectEvents(t, svc, "stream-5")
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Data, "model overloaded")
}

func TestGenerateAnswerNonStreaming(t *testing.T) {
	store := &fakeRetriever{
		tables: map[string]bool{"docs": true},
		rows:   []vectorstore.Row{{ID: 1, Text: "t", Source: "s.pdf"}},
	}
	svc, _, _ := testGenService(t, store, &fakeLLM{tokens: []string{"the answer"}})

	out, err := svc.GenerateAnswer(context.Background(), streamEnvelope(t, GeneratePayload{
		Query: "q", Collection: "docs",
	}))
	require.NoError(t, err)

	res := out.(map[string]any)
	assert.Equal(t, "success", res["status"])
	assert.Equal(t, "the answer", res["answer"])
	assert.Equal(t, []string{"s.pdf"}, res["sources"])
}

func TestGenerateAnswerTemperatureZeroIsNotDefaulted(t *testing.T) {
	store := &fakeRetriever{
		tables: map[string]bool{"docs": true},
		rows:   []vectorstore.Row{{ID: 1, Text: "t", Source: "s.pdf"}},
	}
	client := &fakeLLM{tokens: []string{"ok"}}
	svc, _, _ := testGenService(t, store, client)

	zero := 0.0
	_, err := svc.GenerateAnswer(context.Background(), streamEnvelope(t, GeneratePayload{
		Query: "q", Collection: "docs", Temperature: &zero,
	}))
	require.NoError(t, err)

	// An explicit 0 means deterministic sampling, not "use the default".
	assert.Equal(t, 0.0, client.lastOpts.Temperature)
}

func TestGenerateAnswerTemperatureDefaultsWhenOmitted(t *testing.T) {
	store := &fakeRetriever{
		tables: map[string]bool{"docs": true},
		rows:   []vectorstore.Row{{ID: 1, Text: "t", Source: "s.pdf"}},
	}
	client := &fakeLLM{tokens: []string{"ok"}}
	svc, _, _ := testGenService(t, store, client)

	_, err := svc.GenerateAnswer(context.Background(), streamEnvelope(t, GeneratePayload{
		Query: "q", Collection: "docs",
	}))
	require.NoError(t, err)
	assert.Equal(t, 0.7, client.lastOpts.Temperature)
}

func TestGenerateAnswerMissingCollection(t *testing.T) {
	svc, _, _ := testGenService(t, &fakeRetriever{tables: map[string]bool{}}, &fakeLLM{})

	out, err := svc.GenerateAnswer(context.Background(), streamEnvelope(t, GeneratePayload{
		Query: "q", Collection: "ghost",
	}))
	require.NoError(t, err)

	res := out.(map[string]any)
	assert.Equal(t, "error", res["status"])
	assert.Contains(t, res["error"], "ghost")
}

func TestGenerateAnswerEmptyRetrieval(t *testing.T) {
	svc, _, _ := testGenService(t, &fakeRetriever{tables: map[string]bool{"docs": true}}, &fakeLLM{})

	out, err := svc.GenerateAnswer(context.Background(), streamEnvelope(t, GeneratePayload{
		Query: "q", Collection: "docs",
	}))
	require.NoError(t, err)

	res := out.(map[string]any)
	assert.Equal(t, "success", res["status"])
	assert.Equal(t, emptyKnowledgeAnswer, res["answer"])
	assert.Equal(t, 0, res["retrieved_chunks"])
}
