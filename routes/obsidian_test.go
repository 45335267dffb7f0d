package routes

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pdf-knowledge-pipeline/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obsidianRouter(t *testing.T) (*gin.Engine, *services.ObsidianConverter) {
	t.Helper()
	cfg := testConfig(t)
	converter := services.NewObsidianConverter()

	router := gin.New()
	router.POST("/obsidian-convert", HandleObsidianConvert(cfg, converter))
	router.GET("/obsidian-download/:job_id", HandleObsidianDownload(converter))
	return router, converter
}

func TestObsidianConvertRejectsNonPDF(t *testing.T) {
	router, _ := obsidianRouter(t)

	body, contentType := multipartPDF(t, "file", "notes.txt", []byte("plain text"))
	req := httptest.NewRequest(http.MethodPost, "/obsidian-convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_file_type")
}

func TestObsidianConvertMissingFileField(t *testing.T) {
	router, _ := obsidianRouter(t)

	body, contentType := multipartPDF(t, "document", "notes.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/obsidian-convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_file")
}

func TestObsidianConvertUnparseablePDF(t *testing.T) {
	router, _ := obsidianRouter(t)

	// Right extension, garbage payload: the converter must fail cleanly.
	body, contentType := multipartPDF(t, "file", "broken.pdf", []byte("%PDF-1.4 truncated nonsense"))
	req := httptest.NewRequest(http.MethodPost, "/obsidian-convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "conversion_failed")
}

func TestObsidianDownloadUnknownJob(t *testing.T) {
	router, _ := obsidianRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/obsidian-download/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "job_not_found")
}

func TestMarkdownPreview(t *testing.T) {
	short := "# Title\n\nBody"
	assert.Equal(t, short, markdownPreview(short))

	var b strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	long := strings.TrimSuffix(b.String(), "\n")
	preview := markdownPreview(long)
	require.True(t, strings.HasSuffix(preview, "... (10 more lines)"))
	assert.Equal(t, 50, strings.Count(strings.SplitN(preview, "\n\n...", 2)[0], "\n")+1)
}
