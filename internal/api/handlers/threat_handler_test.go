package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThreatRouter(t *testing.T) (*gin.Engine, *threatdb.Store, *int) {
	t.Helper()
	store, err := threatdb.Open(t.TempDir(), testLogger())
	require.NoError(t, err)

	total := -1
	handler := NewThreatHandler(store, testLogger(), func(n int) { total = n })

	router := setupTestRouter()
	router.GET("/api/threats", handler.ListThreats)
	router.POST("/api/threats", handler.AddThreat)
	router.GET("/api/threats/search", handler.SearchThreats)
	router.GET("/api/threats/summary", handler.Summary)
	router.GET("/api/threats/patterns", handler.ListPatterns)
	router.POST("/api/threats/patterns", handler.AddPattern)
	router.DELETE("/api/threats/:id", handler.RemoveThreat)
	return router, store, &total
}

func postJSON(router http.Handler, path string, v any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(v)
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestThreatHandler_AddAndRemove 测试添加与删除威胁记录
func TestThreatHandler_AddAndRemove(t *testing.T) {
	router, store, total := newThreatRouter(t)
	seeded := len(store.List())

	w := postJSON(router, "/api/threats", map[string]any{
		"packageName": "com.evil.dropper",
		"type":        "trojan",
		"family":      "Dropper",
		"confidence":  88,
		"severity":    "high",
		"tags":        []string{"dropper"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created threatdb.ThreatRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, seeded+1, *total)
	require.NotNil(t, store.Lookup("", "com.evil.dropper"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/threats/"+created.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, seeded, *total)
	assert.Nil(t, store.Lookup("", "com.evil.dropper"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/threats/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestThreatHandler_AddInvalid 测试非法记录
func TestThreatHandler_AddInvalid(t *testing.T) {
	router, _, total := newThreatRouter(t)

	w := postJSON(router, "/api/threats", map[string]any{"type": "trojan"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "no hash or package")

	w = postJSON(router, "/api/threats", map[string]any{"packageName": "com.x", "severity": "extreme"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "bad severity")

	req := httptest.NewRequest("POST", "/api/threats", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "malformed body")

	assert.Equal(t, -1, *total)
}

// TestThreatHandler_SearchAndSummary 测试搜索与统计
func TestThreatHandler_SearchAndSummary(t *testing.T) {
	router, store, _ := newThreatRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/threats/search", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/threats/search?q=flashlight", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var found struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
	assert.Equal(t, len(store.Search("flashlight")), found.Total)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/threats/summary", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var summary threatdb.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, len(store.List()), summary.Total)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/threats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestThreatHandler_Patterns 测试扫描特征管理
func TestThreatHandler_Patterns(t *testing.T) {
	router, store, _ := newThreatRouter(t)
	before := len(store.Patterns())

	w := postJSON(router, "/api/threats/patterns", map[string]any{
		"name":      "Overlay abuse",
		"pattern":   "TYPE_APPLICATION_OVERLAY",
		"riskLevel": "high",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, store.Patterns(), before+1)

	w = postJSON(router, "/api/threats/patterns", map[string]any{"pattern": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/threats/patterns", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
