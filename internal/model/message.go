package model

import (
	"bytes"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"meshdash/pkg/exception"
)

// InboundMessage is one text message received on the real-time stream.
// It is a value type; consumers own their copy after publish.
type InboundMessage struct {
	ID         ID
	Sender     ID
	Channel    ID
	Text       string
	ReplyTo    ID
	ThreadRoot ID

	RxTime   time.Time
	RxSNR    float64
	RxRSSI   int
	HopLimit int
}

// IsReply reports whether the message answers another message.
func (m InboundMessage) IsReply() bool {
	return !m.ReplyTo.IsZero()
}

type wireMessage struct {
	ID         ID       `json:"id"`
	Sender     ID       `json:"sender"`
	Channel    ID       `json:"channel"`
	Text       string   `json:"text"`
	ReplyTo    ID       `json:"reply_to"`
	ThreadRoot ID       `json:"thread_root"`
	RxTime     wireTime `json:"rx_time"`
	RxSNR      float64  `json:"rx_snr"`
	RxRSSI     int      `json:"rx_rssi"`
	HopLimit   int      `json:"hop_limit"`
}

type wireFrame struct {
	wireMessage
	Type    string       `json:"type"`
	Message *wireMessage `json:"message"`
}

var acceptedFrameTypes = map[string]struct{}{
	"":             {},
	"message":      {},
	"text_message": {},
	"message.new":  {},
}

// ParseInboundMessage decodes one UTF-8 JSON text frame.
// Frames may carry the message flat or wrapped as {"type":...,"message":{...}}.
func ParseInboundMessage(payload []byte) (InboundMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return InboundMessage{}, exception.ErrEmptyFrame
	}
	if !utf8.Valid(payload) {
		return InboundMessage{}, errors.Wrap(exception.ErrMalformedFrame, "invalid utf-8")
	}
	if payload[0] != '{' {
		return InboundMessage{}, errors.Wrap(exception.ErrMalformedFrame, "frame is not a json object")
	}

	var frame wireFrame
	if err := sonic.Unmarshal(payload, &frame); err != nil {
		return InboundMessage{}, errors.Wrap(exception.ErrMalformedFrame, "unmarshal frame, err: "+err.Error())
	}
	if _, ok := acceptedFrameTypes[frame.Type]; !ok {
		return InboundMessage{}, errors.Wrap(exception.ErrMalformedFrame, "unsupported frame type "+strconv.Quote(frame.Type))
	}

	wire := frame.wireMessage
	if frame.Message != nil {
		wire = *frame.Message
	}
	if err := wire.validate(); err != nil {
		return InboundMessage{}, err
	}

	return InboundMessage{
		ID:         wire.ID,
		Sender:     wire.Sender,
		Channel:    wire.Channel,
		Text:       wire.Text,
		ReplyTo:    wire.ReplyTo,
		ThreadRoot: wire.ThreadRoot,
		RxTime:     time.Time(wire.RxTime),
		RxSNR:      wire.RxSNR,
		RxRSSI:     wire.RxRSSI,
		HopLimit:   wire.HopLimit,
	}, nil
}

func (w wireMessage) validate() error {
	switch {
	case w.ID.IsZero():
		return errors.Wrap(exception.ErrMalformedFrame, "missing id")
	case w.Sender.IsZero():
		return errors.Wrap(exception.ErrMalformedFrame, "missing sender")
	case w.Channel.IsZero():
		return errors.Wrap(exception.ErrMalformedFrame, "missing channel")
	}
	return nil
}

// wireTime accepts RFC 3339 strings or unix seconds.
type wireTime time.Time

func (t *wireTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = wireTime{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = wireTime{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*t = wireTime(parsed)
		return nil
	}
	sec, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	whole := int64(sec)
	nsec := int64((sec - float64(whole)) * float64(time.Second))
	*t = wireTime(time.Unix(whole, nsec).UTC())
	return nil
}
