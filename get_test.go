package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_FetchesPathsConcurrently(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	out, err := e.run(t, "", "get", "/me", "/users", "/nowhere", "--json")
	require.NoError(t, err)

	var results []getResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)

	assert.Equal(t, "/me", results[0].Path)
	assert.Equal(t, http.StatusOK, results[0].Status)
	assert.Contains(t, string(results[0].Body), testEmail)

	assert.Equal(t, "/users", results[1].Path)
	assert.Equal(t, http.StatusOK, results[1].Status)

	assert.Equal(t, http.StatusNotFound, results[2].Status)
}

func TestGet_ExpiredTokenSharesOneRefresh(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)
	e.advance(testTTL + time.Second)

	paths := []string{"/me", "/users", "/me", "/users", "/me"}

	out, err := e.run(t, "", append([]string{"get", "--json"}, paths...)...)
	require.NoError(t, err)

	var results []getResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))

	for i, r := range results {
		assert.Equal(t, http.StatusOK, r.Status, "path %d", i)
	}

	// Refresh tokens rotate and are single-use: a second refresh would have
	// been rejected and failed the batch.
	_, err = e.run(t, "", "whoami")
	require.NoError(t, err)
}

func TestGet_TextTable(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	out, err := e.run(t, "", "get", "/me")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "STATUS"))
	assert.True(t, strings.HasPrefix(lines[1], "200"))
}

func TestGet_RequiresPath(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run(t, "", "get")
	assert.Error(t, err)
}

func TestNewGetResult(t *testing.T) {
	r := newGetResult("/x", http.StatusOK, []byte(" {\"a\": 1}\n"))
	assert.JSONEq(t, `{"a":1}`, string(r.Body))
	assert.Empty(t, r.Text)
	assert.Equal(t, `{"a":1}`, r.summary())

	r = newGetResult("/y", http.StatusBadGateway, []byte("upstream down\n"))
	assert.Nil(t, r.Body)
	assert.Equal(t, "upstream down", r.Text)

	long := newGetResult("/z", http.StatusOK, []byte(strings.Repeat("x", 100)))
	assert.Len(t, long.summary(), summaryWidth)
	assert.True(t, strings.HasSuffix(long.summary(), "..."))
}
