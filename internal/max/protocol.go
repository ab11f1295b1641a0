// Package max is a client for the MAX messenger WebSocket API: enough of it
// to log in, receive message notifications and resolve users and media.
package max

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const protocolVersion = 11

// Opcode selects the API method of a frame.
type Opcode int

const (
	OpPing         Opcode = 1
	OpSessionInit  Opcode = 6
	OpAuthRequest  Opcode = 17
	OpAuth         Opcode = 18
	OpLogin        Opcode = 19
	OpContactInfo  Opcode = 32
	OpVideoPlay    Opcode = 83
	OpFileDownload Opcode = 88
	OpNotifMessage Opcode = 128
)

func (o Opcode) String() string {
	switch o {
	case OpPing:
		return "ping"
	case OpSessionInit:
		return "session_init"
	case OpAuthRequest:
		return "auth_request"
	case OpAuth:
		return "auth"
	case OpLogin:
		return "login"
	case OpContactInfo:
		return "contact_info"
	case OpVideoPlay:
		return "video_play"
	case OpFileDownload:
		return "file_download"
	case OpNotifMessage:
		return "notif_message"
	default:
		return "opcode_" + strconv.Itoa(int(o))
	}
}

// Frame commands. Requests and server pushes use cmdRequest; replies echo
// the request seq with cmdOK or cmdError.
const (
	cmdRequest = 0
	cmdOK      = 1
	cmdError   = 3
)

type frame struct {
	Ver     int             `json:"ver"`
	Cmd     int             `json:"cmd"`
	Seq     int64           `json:"seq"`
	Opcode  Opcode          `json:"opcode"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// APIError is an error reply from the MAX server.
type APIError struct {
	Opcode    Opcode `json:"-"`
	Code      string `json:"error"`
	Message   string `json:"message"`
	Localized string `json:"localizedMessage"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Localized
	}
	if msg == "" {
		return fmt.Sprintf("max %s: %s", e.Opcode, e.Code)
	}
	return fmt.Sprintf("max %s: %s: %s", e.Opcode, e.Code, msg)
}

// flexInt64 accepts ids sent either as JSON numbers or as numeric strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("id %q: %w", s, err)
		}
		*f = flexInt64(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}
