package ingestion_engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docuiq/internal/core/retrieval"
)

func TestHTTPIndexerIndex(t *testing.T) {
	var got retrieval.IndexRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/index_document", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"chunks":4,"failed":1}`))
	}))
	defer srv.Close()

	ix := NewHTTPIndexer(srv.URL+"/", time.Second)
	res, err := ix.Index(context.Background(), retrieval.IndexRequest{DocumentID: "d1", Title: "T", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, &retrieval.IndexResult{OK: true, Chunks: 4, Failed: 1}, res)
	assert.Equal(t, "d1", got.DocumentID)
	assert.Equal(t, "hello", got.Text)
}

func TestHTTPIndexerErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"server error is transient", http.StatusBadGateway, "upstream down", true},
		{"client error is final", http.StatusBadRequest, `{"ok":false,"error":"no_content"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPIndexer(srv.URL, time.Second).Index(context.Background(), retrieval.IndexRequest{DocumentID: "d1"})
			var ie *IndexError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, tt.status, ie.Status)
			assert.Equal(t, tt.body, ie.Body)
			assert.Equal(t, tt.transient, ie.Transient)
		})
	}
}

func TestHTTPIndexerUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewHTTPIndexer(addr, time.Second).Index(context.Background(), retrieval.IndexRequest{DocumentID: "d1"})
	var ie *IndexError
	require.True(t, errors.As(err, &ie))
	assert.Zero(t, ie.Status)
	assert.True(t, ie.Transient)
}

func TestHTTPIndexerUnindex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/unindex_document", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "d1", body["document_id"])
		_, _ = w.Write([]byte(`{"ok":true,"removed":7}`))
	}))
	defer srv.Close()

	n, err := NewHTTPIndexer(srv.URL, time.Second).Unindex(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestIndexErrorMessage(t *testing.T) {
	long := strings.Repeat("x", 300)
	err := &IndexError{Status: 500, Body: snippet(long)}
	assert.Equal(t, "AI index failed 500: "+strings.Repeat("x", 200), err.Error())
}
