package decode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	ChatID     string   `json:"chatId"`
	Seq        int64    `json:"seq"`
	Recipients []string `json:"recipients"`
}

func TestDecodeJSONWeaklyTyped(t *testing.T) {
	// JSON 数字是 float64，字符串数字也常见，都要解得开
	raw := []byte(`{"chatId":"c1","seq":42,"recipients":["a","b"]}`)
	p, err := DecodeJSON[samplePayload](raw)
	require.NoError(t, err)
	require.Equal(t, "c1", p.ChatID)
	require.EqualValues(t, 42, p.Seq)
	require.Equal(t, []string{"a", "b"}, p.Recipients)

	p, err = DecodeJSON[samplePayload]([]byte(`{"seq":"7"}`))
	require.NoError(t, err)
	require.EqualValues(t, 7, p.Seq)
}

func TestDecodeJSONRejectsBadInput(t *testing.T) {
	_, err := DecodeJSON[samplePayload]([]byte(`not json`))
	require.Error(t, err)
}

func TestDecodeMapNil(t *testing.T) {
	_, err := DecodeMap[samplePayload](nil)
	require.Error(t, err)
}

func TestReadHelpers(t *testing.T) {
	m := map[string]any{"s": "hello", "n": float64(9), "ns": "12"}

	s, err := ReadString(m, "s")
	require.NoError(t, err)
	require.Equal(t, "hello", s)
	_, err = ReadString(m, "missing")
	require.Error(t, err)

	n, err := ReadInt64(m, "n")
	require.NoError(t, err)
	require.EqualValues(t, 9, n)

	n, err = ReadInt64(m, "ns")
	require.NoError(t, err)
	require.EqualValues(t, 12, n)
}
