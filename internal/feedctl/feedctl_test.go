package feedctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server"
	"github.com/dmitrijs2005/feedkeeper/internal/server/auth"
	"github.com/dmitrijs2005/feedkeeper/internal/server/config"
	gs "github.com/dmitrijs2005/feedkeeper/internal/server/grpc"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig points both backends at a temp dir so commands share state.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := map[string]any{
		"metadata_backend": "file",
		"content_backend":  "file",
		"data_dir":         filepath.Join(dir, "data"),
		"secret_key":       "test-secret",
		"log_level":        "error",
		"joins": []any{map[string]any{"name": "catalog", "members": []any{
			map[string]any{"workspace": "acme"},
			map[string]any{"workspace": "beta"},
		}}},
	}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "feedctl.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func seed(t *testing.T, path string, ids ...models.EntryIdentity) {
	t.Helper()
	c, err := config.LoadFile(path)
	require.NoError(t, err)
	ctx := context.Background()
	b, err := server.OpenBackend(ctx, c, logging.New("json", "error", io.Discard))
	require.NoError(t, err)
	defer b.Close()
	for _, id := range ids {
		_, err := b.Entries.Insert(ctx, models.Mutation{Identity: id, Content: []byte("<entry/>"),
			Categories: []models.Category{{Term: id.Workspace}}})
		require.NoError(t, err)
	}
}

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return nil, err
	}
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	return got, nil
}

func id(ws, entryID string) models.EntryIdentity {
	return models.EntryIdentity{Workspace: ws, Collection: "widgets", EntryID: entryID, Locale: "en"}
}

func TestToken(t *testing.T) {
	path := writeConfig(t)

	got, err := run(t, "-c", path, "token", "--author", "alice")
	require.NoError(t, err)

	author, err := auth.AuthorFromToken(got["access_token"].(string), []byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, "alice", author)

	_, err = run(t, "-c", path, "token")
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	got, err := run(t, "-c", writeConfig(t), "migrate")
	require.NoError(t, err)
	assert.Equal(t, true, got["migrated"])
}

func TestFeed(t *testing.T) {
	path := writeConfig(t)
	seed(t, path, id("acme", "1"), id("acme", "2"), id("beta", "1"))

	got, err := run(t, "-c", path, "feed", "acme", "widgets", "--max", "1")
	require.NoError(t, err)
	entries := got["entries"].([]any)
	require.Len(t, entries, 1)
	first := entries[0].(map[string]any)
	assert.Equal(t, "1", first["identity"].(map[string]any)["entry_id"])

	got, err = run(t, "-c", path, "feed", "acme", "widgets", "--start", got["end_index"].(string))
	require.NoError(t, err)
	require.Len(t, got["entries"], 1)

	got, err = run(t, "-c", path, "feed", "acme", "widgets", "--start", got["end_index"].(string))
	require.NoError(t, err)
	assert.Empty(t, got["entries"])

	_, err = run(t, "-c", path, "feed", "acme", "widgets", "--start", "-1")
	assert.ErrorIs(t, err, common.ErrBadRequest)

	_, err = run(t, "-c", path, "feed", "acme")
	assert.Error(t, err)
}

func TestAggregateFeedAndRebuild(t *testing.T) {
	path := writeConfig(t)
	seed(t, path, id("acme", "1"), id("beta", "1"), id("beta", "2"))

	got, err := run(t, "-c", path, "aggregate-feed", "catalog")
	require.NoError(t, err)
	aggs := got["aggregates"].([]any)
	require.Len(t, aggs, 2)

	got, err = run(t, "-c", path, "aggregate-feed", "catalog", "--workspaces", "acme")
	require.NoError(t, err)
	aggs = got["aggregates"].([]any)
	require.Len(t, aggs, 1)
	assert.Equal(t, "1", aggs[0].(map[string]any)["key"])

	got, err = run(t, "-c", path, "aggregate-feed", "catalog", "--query", "beta")
	require.NoError(t, err)
	assert.Len(t, got["aggregates"], 2)

	got, err = run(t, "-c", path, "rebuild", "catalog")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got["aggregates"])

	_, err = run(t, "-c", path, "rebuild", "nope")
	assert.Error(t, err)
}

func TestObliterate(t *testing.T) {
	path := writeConfig(t)
	seed(t, path, id("acme", "1"))

	_, err := run(t, "-c", path, "obliterate", "acme", "widgets", "1", "en")
	require.NoError(t, err)

	got, err := run(t, "-c", path, "feed", "acme", "widgets")
	require.NoError(t, err)
	assert.Empty(t, got["entries"])

	_, err = run(t, "-c", path, "obliterate", "acme", "widgets", "1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGet(t *testing.T) {
	path := writeConfig(t)
	c, err := config.LoadFile(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.New("json", "error", io.Discard)
	b, err := server.OpenBackend(ctx, c, logger)
	require.NoError(t, err)
	_, err = b.Entries.Insert(ctx, models.Mutation{Identity: id("acme", "7"), Content: []byte("<entry/>"), ContentType: "application/atom+xml"})
	require.NoError(t, err)

	srv, err := gs.NewGRPCServer("", logger, b.Entries, b.Feeds, b.Aggregates, b.Batch, c.SecretKey)
	require.NoError(t, err)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
		b.Close()
	})

	got, err := run(t, "-c", path, "get", "--addr", lis.Addr().String(), "acme", "widgets", "7", "en")
	require.NoError(t, err)
	assert.Equal(t, "<entry/>", got["content"])
	assert.Equal(t, "application/atom+xml", got["content_type"])

	_, err = run(t, "-c", path, "get", "--addr", lis.Addr().String(), "acme", "widgets", "8")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDialTarget(t *testing.T) {
	assert.Equal(t, "localhost:50051", dialTarget(":50051"))
	assert.Equal(t, "10.0.0.1:9000", dialTarget("10.0.0.1:9000"))
}
