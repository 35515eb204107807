package xjson

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	Key    string            `json:"key"`
	Params map[string]string `json:"params,omitempty"`
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testJob{Key: "cube", Params: map[string]string{"command": "make && echo <ok>"}}))

	out := buf.String()
	assert.Contains(t, out, `"command": "make && echo <ok>"`)
	assert.Contains(t, out, "\n  \"key\": \"cube\"")
	assert.Equal(t, byte('\n'), out[len(out)-1])

	var decoded testJob
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "cube", decoded.Key)
}

func TestWrite_Unsupported(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chan int")
}
