package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyeval/internal/domain"
	"policyeval/internal/embedding/tfidf"
	"policyeval/internal/vectorstore/memory"
)

var testImpl = &mcp.Implementation{Name: "policyeval-test", Version: "0.1.0"}

var corpus = []string{
	"개인정보처리자는 보유기간이 경과한 개인정보를 지체 없이 파기하여야 한다",
	"개인정보처리자는 정보주체의 동의를 받아 개인정보를 수집할 수 있다",
	"가명정보는 통계작성 목적으로 처리할 수 있다",
}

func newFixture(t *testing.T) (domain.Embedder, *memory.Storage) {
	t.Helper()
	emb := tfidf.NewEmbedder()
	require.NoError(t, emb.Prepare(corpus))

	store := memory.NewStorage()
	ctx := context.Background()
	require.NoError(t, store.RecreateCollection(ctx, "privacy-law", emb.Dimension()))
	vecs, err := emb.EmbedBatch(ctx, corpus)
	require.NoError(t, err)
	points := make([]domain.Point, len(corpus))
	for i, text := range corpus {
		points[i] = domain.Point{ID: uint64(i), Vector: vecs[i], Payload: map[string]any{"text": text, "article": i + 1}}
	}
	require.NoError(t, store.Upsert(ctx, "privacy-law", points))
	return emb, store
}

func connect(t *testing.T, cfg Config) (*mcp.ClientSession, *memory.Storage) {
	t.Helper()
	emb, store := newFixture(t)
	srv, err := NewServer(cfg, emb, store, nil)
	require.NoError(t, err)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, serverT) }()

	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		session.Close()
		cancel()
	})
	return session, store
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func texts(res *mcp.CallToolResult) []string {
	var out []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out = append(out, tc.Text)
		}
	}
	return out
}

func toolNames(t *testing.T, session *mcp.ClientSession) []string {
	t.Helper()
	list, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestServer_FindReturnsClosestEntries(t *testing.T) {
	session, _ := connect(t, Config{SearchLimit: 2})

	res := callTool(t, session, ToolFind, map[string]any{"query": "지체 없이 파기하여야 한다", "collection_name": "privacy-law"})

	require.False(t, res.IsError, texts(res))
	got := texts(res)
	require.Len(t, got, 3)
	assert.Equal(t, "Results for the query '지체 없이 파기하여야 한다'", got[0])
	assert.Contains(t, got[1], "<content>"+corpus[0]+"</content>")
	assert.Contains(t, got[1], `<metadata>{"article":1}</metadata>`)
}

func TestServer_FindUnknownCollection(t *testing.T) {
	session, _ := connect(t, Config{})

	res := callTool(t, session, ToolFind, map[string]any{"query": "파기", "collection_name": "missing"})

	require.False(t, res.IsError)
	assert.Equal(t, []string{"No information found for the query '파기'"}, texts(res))
}

func TestServer_StoreThenFind(t *testing.T) {
	session, store := connect(t, Config{Collection: "notes"})

	res := callTool(t, session, ToolStore, map[string]any{
		"information": "가명정보는 통계작성 목적으로 처리할 수 있다",
		"metadata":    map[string]any{"source": "memo"},
	})
	require.False(t, res.IsError, texts(res))
	assert.Equal(t, []string{"Remembered: 가명정보는 통계작성 목적으로 처리할 수 있다 in collection notes"}, texts(res))

	exists, err := store.CollectionExists(context.Background(), "notes")
	require.NoError(t, err)
	assert.True(t, exists)

	found := texts(callTool(t, session, ToolFind, map[string]any{"query": "가명정보 통계작성"}))
	require.Len(t, found, 2)
	assert.Contains(t, found[1], `<metadata>{"source":"memo"}</metadata>`)
}

func TestServer_ReadOnlyHidesStore(t *testing.T) {
	session, _ := connect(t, Config{ReadOnly: true})
	assert.Equal(t, []string{ToolFind}, toolNames(t, session))

	writable, _ := connect(t, Config{})
	assert.ElementsMatch(t, []string{ToolFind, ToolStore}, toolNames(t, writable))
}

func TestServer_FixedCollectionDropsArgument(t *testing.T) {
	session, _ := connect(t, Config{Collection: "privacy-law"})

	list, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	for _, tool := range list.Tools {
		schema, ok := tool.InputSchema.(map[string]any)
		require.True(t, ok)
		props, _ := schema["properties"].(map[string]any)
		assert.NotContains(t, props, "collection_name", tool.Name)
	}

	got := texts(callTool(t, session, ToolFind, map[string]any{"query": "동의를 받아 수집"}))
	require.Greater(t, len(got), 1)
	assert.True(t, strings.HasPrefix(got[0], "Results for the query"))
}

func TestServer_MissingCollectionIsToolError(t *testing.T) {
	session, _ := connect(t, Config{})

	res := callTool(t, session, ToolFind, map[string]any{"query": "파기", "collection_name": ""})

	assert.True(t, res.IsError)
}

func TestFormatEntry(t *testing.T) {
	assert.Equal(t, "<entry><content>본문</content><metadata></metadata></entry>",
		formatEntry(map[string]any{"text": "본문"}, "text"))
	assert.Equal(t, `<entry><content>본문</content><metadata>{"law":"법"}</metadata></entry>`,
		formatEntry(map[string]any{"text": "본문", "law": "법"}, "text"))
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(Config{}, nil, memory.NewStorage(), nil)
	assert.Error(t, err)
	_, err = NewServer(Config{}, tfidf.NewEmbedder(), nil, nil)
	assert.Error(t, err)
}

func TestNewPointID_HighBitSet(t *testing.T) {
	a, b := newPointID(), newPointID()
	assert.NotEqual(t, a, b)
	assert.NotZero(t, a&(1<<63))
}
