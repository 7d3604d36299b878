package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pocketledger/ledgersync/internal/ledger/merge"
	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
)

// startServer runs a dashboard on a free port with a handler attached.
func startServer(t *testing.T, reg *prometheus.Registry) (*Server, *Handler) {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	var h *Handler
	config := &Config{
		Host:     "127.0.0.1",
		Port:     0,
		Gatherer: reg,
		Snapshot: func() interface{} { return h.Snapshot() },
		Logger:   logger,
	}
	s := NewServer(config)
	h = NewHandler(s, logger)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s, h
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	return msg
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestServer_Health(t *testing.T) {
	s, _ := startServer(t, prometheus.NewRegistry())

	code, body := getBody(t, "http://"+s.GetAddr()+"/health")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v, want ok", health["status"])
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledgersync.NewMetrics(reg)
	s, _ := startServer(t, reg)

	code, body := getBody(t, "http://"+s.GetAddr()+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if !strings.Contains(body, "ledgersync_records_added_total") {
		t.Errorf("metrics output missing ledgersync_records_added_total:\n%s", body)
	}
}

func TestServer_StatusWithoutSnapshot(t *testing.T) {
	s := NewServer(&Config{Host: "127.0.0.1", Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.Stop()

	code, _ := getBody(t, "http://"+s.GetAddr()+"/status")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", code)
	}
}

func TestServer_UnknownPath(t *testing.T) {
	s, _ := startServer(t, prometheus.NewRegistry())

	code, _ := getBody(t, "http://"+s.GetAddr()+"/nope")
	if code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", code)
	}
}

func TestServer_WelcomeAndBroadcast(t *testing.T) {
	s, h := startServer(t, prometheus.NewRegistry())
	conn := dial(t, s)

	welcome := readMessage(t, conn)
	if welcome.Type != MessageTypeStatus {
		t.Fatalf("welcome type = %s, want status", welcome.Type)
	}
	var st StatusData
	if err := json.Unmarshal(welcome.Data, &st); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if st.State != ledgersync.StateIdle {
		t.Errorf("welcome state = %s, want idle", st.State)
	}
	if s.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", s.ClientCount())
	}

	h.OnStatus(ledgersync.Status{State: ledgersync.StateError, Reason: "replica unavailable"})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("type = %s, want status", msg.Type)
	}
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if st.State != ledgersync.StateError || st.Reason != "replica unavailable" {
		t.Errorf("status = %+v, want error with reason", st)
	}

	// The /status snapshot follows the handler.
	_, body := getBody(t, "http://"+s.GetAddr()+"/status")
	if !strings.Contains(body, "replica unavailable") {
		t.Errorf("/status = %s, want latest reason", body)
	}
}

func TestHandler_Run(t *testing.T) {
	s, h := startServer(t, prometheus.NewRegistry())
	conn := dial(t, s)
	readMessage(t, conn) // welcome

	local := schema.Record{ID: "t1", Date: "2024-05-03", Amount: "10"}
	remote := local
	remote.Amount = "12"
	report := &ledgersync.Report{
		Partitions: 2,
		Added:      3,
		Written:    1,
		Conflicts: []merge.Conflict{
			{Kind: merge.ConflictBothModified, Local: local, Remote: &remote},
		},
	}

	updates := make(chan ledgersync.Status, 4)
	updates <- ledgersync.Status{State: ledgersync.StateSyncing}
	updates <- ledgersync.Status{State: ledgersync.StateSynced, LastSync: time.Now(), LastReport: report}
	close(updates)

	h.Run(context.Background(), updates)

	want := []MessageType{MessageTypeStatus, MessageTypeStatus, MessageTypeSyncComplete, MessageTypeConflicts}
	var msgs []Message
	for range want {
		msgs = append(msgs, readMessage(t, conn))
	}
	for i, typ := range want {
		if msgs[i].Type != typ {
			t.Errorf("message %d type = %s, want %s", i, msgs[i].Type, typ)
		}
	}

	var done SyncCompleteData
	if err := json.Unmarshal(msgs[2].Data, &done); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if done.Added != 3 || done.Conflicts != 1 {
		t.Errorf("sync_complete = %+v, want added=3 conflicts=1", done)
	}

	var conflicts ConflictsData
	if err := json.Unmarshal(msgs[3].Data, &conflicts); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if len(conflicts.Records) != 1 {
		t.Fatalf("conflict records = %d, want 1", len(conflicts.Records))
	}
	got := conflicts.Records[0]
	if got.ID != "t1" || got.LocalAmount != "10" || got.RemoteAmount != "12" || got.Kind != "both-modified" {
		t.Errorf("conflict = %+v", got)
	}
}

func TestHandler_RunStopsOnCancel(t *testing.T) {
	s := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	h := NewHandler(s, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, make(chan ledgersync.Status))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
