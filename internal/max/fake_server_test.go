package max

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeMAX is a minimal MAX WebSocket server for client tests.
type fakeMAX struct {
	Server *httptest.Server

	ValidToken     string
	VerifyCode     string
	Contacts       map[int64][]string
	VideoReply     map[string]any
	FileURL        string
	Push           []map[string]any // NOTIF_MESSAGE payloads sent after login
	DropAfterLogin int              // close the first N connections right after login

	mu          sync.Mutex
	opcodes     []Opcode
	origins     []string
	deviceIDs   []string
	connections int
}

// newFakeMAX applies setup before the server starts accepting connections.
func newFakeMAX(t *testing.T, setup ...func(*fakeMAX)) *fakeMAX {
	t.Helper()
	f := &fakeMAX{
		ValidToken: "tok-valid",
		VerifyCode: "123456",
		Contacts:   map[int64][]string{},
	}
	for _, fn := range setup {
		fn(f)
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *fakeMAX) URL() string {
	return "ws" + strings.TrimPrefix(f.Server.URL, "http")
}

func (f *fakeMAX) seen() []Opcode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Opcode(nil), f.opcodes...)
}

func (f *fakeMAX) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	f.mu.Lock()
	f.connections++
	connNo := f.connections
	f.origins = append(f.origins, r.Header.Get("Origin"))
	f.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req frame
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		var payload map[string]any
		_ = json.Unmarshal(req.Payload, &payload)

		f.mu.Lock()
		f.opcodes = append(f.opcodes, req.Opcode)
		f.mu.Unlock()

		reply, fail := f.answer(req.Opcode, payload)
		cmd := cmdOK
		if fail {
			cmd = cmdError
		}
		if err := writeFrame(ws, cmd, req.Seq, req.Opcode, reply); err != nil {
			return
		}

		if req.Opcode == OpLogin && !fail {
			for _, p := range f.Push {
				if err := writeFrame(ws, cmdRequest, 0, OpNotifMessage, p); err != nil {
					return
				}
			}
			if connNo <= f.DropAfterLogin {
				return
			}
		}
	}
}

func (f *fakeMAX) answer(op Opcode, p map[string]any) (any, bool) {
	switch op {
	case OpSessionInit:
		f.mu.Lock()
		f.deviceIDs = append(f.deviceIDs, p["deviceId"].(string))
		f.mu.Unlock()
		return map[string]any{"location": "RU"}, false
	case OpLogin:
		if p["token"] != f.ValidToken {
			return map[string]any{"error": "login.token", "message": "Invalid token"}, true
		}
		return map[string]any{"profile": map[string]any{"id": 1}}, false
	case OpPing:
		return map[string]any{}, false
	case OpContactInfo:
		var contacts []map[string]any
		for _, raw := range p["contactIds"].([]any) {
			id := int64(raw.(float64))
			names, ok := f.Contacts[id]
			if !ok {
				continue
			}
			var entries []map[string]any
			for _, n := range names {
				entries = append(entries, map[string]any{"name": n, "type": "ONEME"})
			}
			contacts = append(contacts, map[string]any{"id": id, "names": entries})
		}
		return map[string]any{"contacts": contacts}, false
	case OpVideoPlay:
		if f.VideoReply == nil {
			return map[string]any{"error": "video.not.found", "message": "Video not found"}, true
		}
		return f.VideoReply, false
	case OpFileDownload:
		return map[string]any{"url": f.FileURL, "unsafe": false}, false
	case OpAuthRequest:
		return map[string]any{"token": "tmp-" + p["phone"].(string)}, false
	case OpAuth:
		if p["verifyCode"] != f.VerifyCode {
			return map[string]any{"error": "verify.code", "message": "Wrong code"}, true
		}
		return map[string]any{"tokenAttrs": map[string]any{"LOGIN": map[string]any{"token": "tok-new"}}}, false
	default:
		return map[string]any{"error": "proto.opcode", "message": "unknown opcode"}, true
	}
}

func writeFrame(ws *websocket.Conn, cmd int, seq int64, op Opcode, payload any) error {
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(frame{Ver: protocolVersion, Cmd: cmd, Seq: seq, Opcode: op, Payload: raw})
	return ws.WriteMessage(websocket.TextMessage, data)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
