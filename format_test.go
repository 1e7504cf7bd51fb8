package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"STATUS", "PATH"}, [][]string{
		{"200", "/me"},
		{"401", "/users"},
	})

	assert.Equal(t, "STATUS  PATH\n200     /me\n401     /users\n", buf.String())
}

func TestPrintTable_HeadersOnly(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"A", "B"}, nil)

	assert.Equal(t, "A  B\n", buf.String())
}

func TestPrintJSON_Indented(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]string{"email": "a@b.c"}))
	assert.Equal(t, "{\n  \"email\": \"a@b.c\"\n}\n", buf.String())
}

func TestPrintJSON_Unencodable(t *testing.T) {
	err := printJSON(&bytes.Buffer{}, make(chan int))
	assert.ErrorContains(t, err, "encoding JSON output")
}
