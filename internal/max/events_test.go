package max

import (
	"encoding/json"
	"testing"

	"maxrelay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification_TextOnly(t *testing.T) {
	msg, err := parseNotification(json.RawMessage(`{"chatId":-68000,"message":{"id":"12","sender":"42","text":"hi","time":1700000000000}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.InboundMessage{SenderID: 42, ChatID: -68000, MessageID: 12, Text: "hi"}, msg)
}

func TestParseNotification_AttachOrderAndKinds(t *testing.T) {
	msg, err := parseNotification(json.RawMessage(`{"chatId":7,"message":{"id":1,"sender":2,"attaches":[
		{"_type":"FILE","fileId":3,"name":"a.zip"},
		{"_type":"AUDIO","audioId":4},
		{"_type":"PHOTO","baseUrl":"https://p"},
		{"_type":"VIDEO","videoId":"5"},
		{"photoId":6}
	]}}`))
	require.NoError(t, err)
	assert.Equal(t, []domain.Attachment{
		domain.File{FileID: 3},
		domain.Unsupported{TypeName: "AUDIO"},
		domain.Photo{URL: "https://p"},
		domain.Video{VideoID: 5},
		domain.Unsupported{TypeName: "UNKNOWN"},
	}, msg.Attachments)
}

func TestParseNotification_Malformed(t *testing.T) {
	_, err := parseNotification(json.RawMessage(`{"chatId":"abc"}`))
	assert.Error(t, err)
}

func TestFlexInt64(t *testing.T) {
	for in, want := range map[string]int64{`5`: 5, `"6"`: 6, `""`: 0, `null`: 0, `-7`: -7} {
		var f flexInt64
		require.NoError(t, json.Unmarshal([]byte(in), &f), in)
		assert.Equal(t, want, int64(f), in)
	}
}

func TestPickVideoURL(t *testing.T) {
	raw := func(m map[string]any) map[string]json.RawMessage {
		out := map[string]json.RawMessage{}
		for k, v := range m {
			b, _ := json.Marshal(v)
			out[k] = b
		}
		return out
	}
	assert.Equal(t, "https://v/1080", pickVideoURL(raw(map[string]any{
		"MP4_360": "https://v/360", "MP4_1080": "https://v/1080", "EXTERNAL": "https://e",
	})))
	assert.Equal(t, "https://hls", pickVideoURL(raw(map[string]any{"HLS": "https://hls", "EXTERNAL": "https://e", "cache": true})))
	assert.Equal(t, "https://e", pickVideoURL(raw(map[string]any{"EXTERNAL": "https://e"})))
	assert.Equal(t, "", pickVideoURL(raw(map[string]any{"cache": false})))
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{Opcode: OpLogin, Code: "login.token", Message: "Invalid token"}
	assert.Equal(t, "max login: login.token: Invalid token", err.Error())
}
