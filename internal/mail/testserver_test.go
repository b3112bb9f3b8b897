package mail

import (
	"bufio"
	"encoding/json"
	"net"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainmail-net/chainmail/internal/mailrpc"
	"github.com/chainmail-net/chainmail/internal/models"
)

// fakeMailServer speaks the daemon wire protocol over real TCP and keeps
// its mail in memory. Store behavior can be scripted per call to provoke
// the transmitter's error handling.
type fakeMailServer struct {
	t  *testing.T
	ln net.Listener

	mu         sync.Mutex
	messages   map[models.MessageID]models.Message
	storeErrs  []string // consumed one per store call; "" means success
	failAll    string   // when set, every store fails with this message
	silent     bool     // accept connections but never answer
	storeCalls int
}

func newFakeMailServer(t *testing.T) *fakeMailServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeMailServer{
		t:        t,
		ln:       ln,
		messages: make(map[models.MessageID]models.Message),
	}
	go s.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeMailServer) endpoint() string {
	return s.ln.Addr().String()
}

// seed preloads a message, as if another client had stored it.
func (s *fakeMailServer) seed(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID()] = msg
}

func (s *fakeMailServer) setFailAll(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = message
}

func (s *fakeMailServer) setSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

func (s *fakeMailServer) queueStoreErr(messages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeErrs = append(s.storeErrs, messages...)
}

func (s *fakeMailServer) storeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeCalls
}

func (s *fakeMailServer) has(id models.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[id]
	return ok
}

func (s *fakeMailServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

type wireRequest struct {
	ID     int               `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (s *fakeMailServer) handleConn(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	silent := s.silent
	s.mu.Unlock()
	if silent {
		// Hold the connection open without ever answering.
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req wireRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}

		switch req.Method {
		case "mail_store_message":
			s.handleStore(conn, req)
		case "mail_fetch_message":
			s.handleFetch(conn, req)
		case "mail_fetch_inventory":
			s.handleInventory(conn, req)
		default:
			s.replyErr(conn, req.ID, "unknown method")
		}
	}
}

func (s *fakeMailServer) handleStore(conn net.Conn, req wireRequest) {
	var msg models.Message
	if err := json.Unmarshal(req.Params[0], &msg); err != nil {
		s.replyErr(conn, req.ID, "malformed message")
		return
	}

	s.mu.Lock()
	s.storeCalls++
	var scripted string
	if len(s.storeErrs) > 0 {
		scripted = s.storeErrs[0]
		s.storeErrs = s.storeErrs[1:]
	} else {
		scripted = s.failAll
	}
	if scripted == "" {
		s.messages[msg.ID()] = msg
	}
	s.mu.Unlock()

	if scripted != "" {
		s.replyErr(conn, req.ID, scripted)
		return
	}
	s.reply(conn, req.ID, "stored")
}

func (s *fakeMailServer) handleFetch(conn net.Conn, req wireRequest) {
	var id models.MessageID
	if err := json.Unmarshal(req.Params[0], &id); err != nil {
		s.replyErr(conn, req.ID, "malformed id")
		return
	}

	s.mu.Lock()
	msg, ok := s.messages[id]
	s.mu.Unlock()
	if !ok {
		s.replyErr(conn, req.ID, "message not found")
		return
	}
	s.reply(conn, req.ID, msg)
}

func (s *fakeMailServer) handleInventory(conn net.Conn, req wireRequest) {
	var owner models.Address
	var since int64
	var limit int
	if err := json.Unmarshal(req.Params[0], &owner); err != nil {
		s.replyErr(conn, req.ID, "malformed owner")
		return
	}
	if err := json.Unmarshal(req.Params[1], &since); err != nil {
		s.replyErr(conn, req.ID, "malformed since")
		return
	}
	if err := json.Unmarshal(req.Params[2], &limit); err != nil {
		s.replyErr(conn, req.ID, "malformed limit")
		return
	}

	s.mu.Lock()
	items := make([]mailrpc.InventoryItem, 0)
	for id, msg := range s.messages {
		if models.AddressFromKey(msg.Recipient) == owner && msg.Timestamp >= since {
			items = append(items, mailrpc.InventoryItem{Timestamp: msg.Timestamp, ID: id})
		}
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp < items[j].Timestamp })
	if len(items) > limit {
		items = items[:limit]
	}
	s.reply(conn, req.ID, items)
}

func (s *fakeMailServer) reply(conn net.Conn, id int, result any) {
	payload, err := json.Marshal(map[string]any{"id": id, "result": result})
	require.NoError(s.t, err)
	conn.Write(append(payload, '\n'))
}

func (s *fakeMailServer) replyErr(conn net.Conn, id int, message string) {
	payload, err := json.Marshal(map[string]any{
		"id":    id,
		"error": map[string]string{"message": message},
	})
	require.NoError(s.t, err)
	conn.Write(append(payload, '\n'))
}
