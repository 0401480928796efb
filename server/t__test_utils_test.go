package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rekapu/go-rekapu/service/persist"
	"github.com/rekapu/go-rekapu/service/persist/memstore"
)

type testConfig struct {
	server    *httptest.Server
	serverURL string
	store     *memstore.Store
}

// Should be called at the beginning of every route test. Initializes config
// defaults and starts a test server over a fresh in-memory store.
func setup(t *testing.T) (*assert.Assertions, *testConfig) {
	t.Helper()
	setDefaults()

	gin.SetMode(gin.ReleaseMode) // Prevent excessive logs
	store := memstore.NewStore()
	ts := httptest.NewServer(CoreInit(store))
	t.Cleanup(ts.Close)

	return assert.New(t), &testConfig{
		server:    ts,
		serverURL: ts.URL,
		store:     store,
	}
}

func seedTestStore(t *testing.T, store persist.Store) {
	t.Helper()
	set := func(coll persist.Collection, key string, v any) {
		bs, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, store.Set(context.Background(), coll, key, bs))
	}
	set(persist.CollectionCards, "c1", persist.Card{ID: "c1", Front: "what is 2+2", Back: "4", Type: persist.CardTypeBasic})
	set(persist.CollectionTags, "t1", persist.Tag{ID: "t1", Name: "math"})
	set(persist.CollectionActiveTags, persist.ActiveTagsKey, []string{"math"})
	set(persist.CollectionDomains, "reddit.com", persist.DomainSetting{Domain: "reddit.com", CooldownMinutes: 30, Active: true})
	set(persist.CollectionSettings, persist.SettingsKey, persist.GlobalSettings{Theme: "dark"})
}

func postBody(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	bs, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(bs))
	require.NoError(t, err)
	return resp
}

func unmarshalBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func assertValidResponse(assert *assert.Assertions, resp *http.Response) {
	assert.Equal(http.StatusOK, resp.StatusCode, "Status should be 200")
}

func assertValidJSONResponse(assert *assert.Assertions, resp *http.Response) {
	assertValidResponse(assert, resp)
	val, ok := resp.Header["Content-Type"]
	assert.True(ok, "Content-Type header should be set")
	assert.Equal("application/json; charset=utf-8", val[0], "Response should be in JSON")
}

func assertErrorResponse(assert *assert.Assertions, resp *http.Response, status int) {
	assert.Equal(status, resp.StatusCode, fmt.Sprintf("Status should be %d", status))
}
