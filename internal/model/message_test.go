package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshdash/pkg/exception"
)

func TestParseInboundMessageFlat(t *testing.T) {
	msg, err := ParseInboundMessage([]byte(`{
		"id": 3735928559,
		"sender": "!a1b2c3d4",
		"channel": "LongFast",
		"text": "hello mesh",
		"reply_to": "12",
		"rx_time": "2024-05-01T10:00:00Z",
		"rx_snr": 6.25,
		"rx_rssi": -91,
		"hop_limit": 3
	}`))
	require.NoError(t, err)

	assert.Equal(t, ID("3735928559"), msg.ID)
	assert.Equal(t, ID("!a1b2c3d4"), msg.Sender)
	assert.Equal(t, ID("LongFast"), msg.Channel)
	assert.Equal(t, "hello mesh", msg.Text)
	assert.Equal(t, ID("12"), msg.ReplyTo)
	assert.True(t, msg.IsReply())
	assert.True(t, msg.ThreadRoot.IsZero())
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), msg.RxTime.UTC())
	assert.Equal(t, 6.25, msg.RxSNR)
	assert.Equal(t, -91, msg.RxRSSI)
	assert.Equal(t, 3, msg.HopLimit)
}

func TestParseInboundMessageEnvelope(t *testing.T) {
	msg, err := ParseInboundMessage([]byte(`{"type":"text_message","message":{"id":"m1","sender":"n1","channel":0,"text":"hi","rx_time":1714557600}}`))
	require.NoError(t, err)
	assert.Equal(t, ID("m1"), msg.ID)
	assert.Equal(t, ID("0"), msg.Channel)
	assert.Equal(t, int64(1714557600), msg.RxTime.Unix())
	assert.False(t, msg.IsReply())
}

func TestParseInboundMessageRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `hello`,
		"array":           `[1,2,3]`,
		"truncated":       `{"id":"1","sender":"a"`,
		"missing id":      `{"sender":"a","channel":"c","text":"x"}`,
		"missing sender":  `{"id":"1","channel":"c","text":"x"}`,
		"missing channel": `{"id":"1","sender":"a","text":"x"}`,
		"bad id type":     `{"id":true,"sender":"a","channel":"c"}`,
		"bad rx_time":     `{"id":"1","sender":"a","channel":"c","rx_time":"yesterday"}`,
		"unknown type":    `{"type":"node_update","id":"1","sender":"a","channel":"c"}`,
		"invalid utf8":    "{\"id\":\"\xff\"}",
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInboundMessage([]byte(frame))
			require.Error(t, err)
			require.ErrorIs(t, err, exception.ErrMalformedFrame)
		})
	}
}

func TestParseInboundMessageEmpty(t *testing.T) {
	_, err := ParseInboundMessage([]byte("   "))
	require.ErrorIs(t, err, exception.ErrEmptyFrame)
}

func TestIDUnmarshalNull(t *testing.T) {
	var id ID = "x"
	require.NoError(t, id.UnmarshalJSON([]byte("null")))
	require.True(t, id.IsZero())
}

func TestIDMarshal(t *testing.T) {
	b, err := ID(`a"b`).MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"a\"b"`, string(b))
}
