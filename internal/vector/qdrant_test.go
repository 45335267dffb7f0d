package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pdf-knowledge-pipeline/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(serverURL string) *Client {
	return NewClient(&config.Config{
		QdrantURL:     serverURL,
		QdrantAPIKey:  "test-key",
		QdrantTimeout: 5,
	})
}

func TestEnsureCollectionCreatesOnMissing(t *testing.T) {
	var created map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/docs":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			fmt.Fprint(w, `{"result": true}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	err := testClient(srv.URL).EnsureCollection(context.Background(), "docs", 768)
	require.NoError(t, err)

	vectors, ok := created["vectors"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(768), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestEnsureCollectionSkipsExisting(t *testing.T) {
	puts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			puts++
		}
		fmt.Fprint(w, `{"result": {"points_count": 10, "config": {"params": {"vectors": {"size": 768, "distance": "Cosine"}}}}}`)
	}))
	defer srv.Close()

	err := testClient(srv.URL).EnsureCollection(context.Background(), "docs", 768)
	require.NoError(t, err)
	assert.Zero(t, puts)
}

func TestGetCollectionInfoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetCollectionInfo(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertSendsPointsAndWaits(t *testing.T) {
	var body struct {
		Points []Point `json:"points"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/docs/points", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"result": {"status": "completed"}}`)
	}))
	defer srv.Close()

	points := []Point{{
		ID:      "id-1",
		Vector:  []float32{0.1, 0.2},
		Payload: map[string]interface{}{"text": "hello"},
	}}
	err := testClient(srv.URL).Upsert(context.Background(), "docs", points)
	require.NoError(t, err)

	require.Len(t, body.Points, 1)
	assert.Equal(t, "id-1", body.Points[0].ID)
	assert.Equal(t, "hello", body.Points[0].Payload["text"])
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).Upsert(context.Background(), "docs", nil))
}

func TestSearchThresholdPassthrough(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/docs/points/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"result": [{"id": "p1", "score": 0.92, "payload": {"text": "match"}}]}`)
	}))
	defer srv.Close()

	threshold := 0.3
	hits, err := testClient(srv.URL).Search(context.Background(), "docs", []float32{0.5}, 5, &threshold)
	require.NoError(t, err)

	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, true, body["with_payload"])
	assert.Equal(t, 0.3, body["score_threshold"])

	require.Len(t, hits, 1)
	assert.InDelta(t, 0.92, hits[0].Score, 1e-9)
	assert.Equal(t, "match", hits[0].Payload["text"])
}

func TestSearchWithoutThreshold(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"result": []}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), "docs", []float32{0.5}, 5, nil)
	require.NoError(t, err)

	_, present := body["score_threshold"]
	assert.False(t, present)
}

func TestScrollChaining(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls++
		switch calls {
		case 1:
			_, hasOffset := body["offset"]
			assert.False(t, hasOffset)
			fmt.Fprint(w, `{"result": {"points": [{"id": "a", "payload": {"filename": "x.pdf"}}], "next_page_offset": "cursor-1"}}`)
		case 2:
			assert.Equal(t, "cursor-1", body["offset"])
			fmt.Fprint(w, `{"result": {"points": [{"id": "b", "payload": {"filename": "y.pdf"}}], "next_page_offset": null}}`)
		default:
			t.Error("scroll should stop after the last page")
		}
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	ctx := context.Background()

	points, next, err := client.Scroll(ctx, "docs", 100, nil)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, "cursor-1", next)

	points, next, err = client.Scroll(ctx, "docs", 100, next)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Nil(t, next)
}

func TestListCollections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections":
			fmt.Fprint(w, `{"result": {"collections": [{"name": "docs"}]}}`)
		case "/collections/docs":
			fmt.Fprint(w, `{"result": {"points_count": 42, "config": {"params": {"vectors": {"size": 768, "distance": "Cosine"}}}}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	collections, err := testClient(srv.URL).ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, "docs", collections[0].Name)
	assert.Equal(t, uint64(42), collections[0].VectorsCount)
	assert.Equal(t, 768, collections[0].VectorSize)
}

func TestServerErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"status": {"error": "wrong vector size"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), "docs", []float32{0.5}, 5, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "wrong vector size")
}
