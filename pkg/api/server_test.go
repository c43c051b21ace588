package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/d1childress/neo/pkg/config"
	"github.com/d1childress/neo/pkg/logger"
	"github.com/d1childress/neo/pkg/models"
	"github.com/d1childress/neo/pkg/scanner"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProber answers instantly from a fixed map so API tests never touch
// the network.
type stubProber struct {
	open  map[int]bool
	delay time.Duration
}

func (p *stubProber) Probe(ctx context.Context, _ string, port int) models.ProbeOutcome {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}

	state := models.PortClosed
	if p.open[port] {
		state = models.PortOpen
	}

	return models.ProbeOutcome{Port: port, State: state}
}

func newTestServer(t *testing.T, prober *stubProber) (*Server, *httptest.Server) {
	t.Helper()

	cfg := &config.ScanServiceConfig{}
	require.NoError(t, cfg.Validate())

	log := logger.NewTestLogger(io.Discard)
	s := NewServer(cfg, log)

	s.newScanner = func(target models.ScanTarget, opts models.ScanOptions) *scanner.PortScanner {
		return scanner.NewWithProber(target, opts, prober, log)
	}

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return s, ts
}

func createScan(t *testing.T, ts *httptest.Server, req ScanRequest) (ScanStatus, *http.Response) {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/scans", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	defer resp.Body.Close()

	var status ScanStatus
	if resp.StatusCode == http.StatusCreated {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	}

	return status, resp
}

func waitForReport(t *testing.T, ts *httptest.Server, id string) ScanStatus {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/api/scans/%s", ts.URL, id))
		require.NoError(t, err)

		var status ScanStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		resp.Body.Close()

		if status.Report != nil {
			return status
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("scan did not finish in time")

	return ScanStatus{}
}

func TestAPI_ScanLifecycle(t *testing.T) {
	prober := &stubProber{open: map[int]bool{22: true}}
	_, ts := newTestServer(t, prober)

	status, resp := createScan(t, ts, ScanRequest{Host: "10.0.0.1", StartPort: 20, EndPort: 25})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, status.ID)
	assert.Equal(t, "10.0.0.1", status.Target.Host)

	final := waitForReport(t, ts, status.ID)

	assert.Equal(t, models.StateCompleted, final.State)
	assert.Equal(t, []int{22}, final.Report.OpenPorts)
	assert.Equal(t, 6, final.Report.PortsScanned)
	assert.False(t, final.Report.Cancelled)
}

func TestAPI_ScanWithPortSpec(t *testing.T) {
	prober := &stubProber{open: map[int]bool{80: true, 443: true}}
	_, ts := newTestServer(t, prober)

	status, resp := createScan(t, ts, ScanRequest{Host: "10.0.0.1", Ports: "22,80,443"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	final := waitForReport(t, ts, status.ID)

	assert.Equal(t, []int{80, 443}, final.Report.OpenPorts)
	assert.Equal(t, 3, final.Report.PortsPlanned)
}

func TestAPI_InvalidRangeRejected(t *testing.T) {
	prober := &stubProber{}
	_, ts := newTestServer(t, prober)

	tests := []struct {
		name string
		req  ScanRequest
	}{
		{name: "start exceeds end", req: ScanRequest{Host: "h", StartPort: 100, EndPort: 50}},
		{name: "out of range", req: ScanRequest{Host: "h", StartPort: 0, EndPort: 10}},
		{name: "empty host", req: ScanRequest{StartPort: 1, EndPort: 10}},
		{name: "bad port spec", req: ScanRequest{Host: "h", Ports: "ssh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := createScan(t, ts, tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAPI_CancelIdempotent(t *testing.T) {
	prober := &stubProber{delay: 5 * time.Millisecond}
	_, ts := newTestServer(t, prober)

	status, resp := createScan(t, ts, ScanRequest{Host: "10.0.0.1", StartPort: 1, EndPort: 2000, Concurrency: 10})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	cancelURL := fmt.Sprintf("%s/api/scans/%s/cancel", ts.URL, status.ID)

	for i := 0; i < 2; i++ {
		resp, err := http.Post(cancelURL, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	final := waitForReport(t, ts, status.ID)

	assert.Equal(t, models.StateCancelled, final.State)
	assert.True(t, final.Report.Cancelled)
	assert.LessOrEqual(t, final.Report.PortsScanned, final.Report.PortsPlanned)

	// Cancelling a finished scan is still a no-op.
	resp2, err := http.Post(cancelURL, "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp2.StatusCode)
}

func TestAPI_UnknownScan(t *testing.T) {
	prober := &stubProber{}
	_, ts := newTestServer(t, prober)

	resp, err := http.Get(ts.URL + "/api/scans/no-such-id")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListScans(t *testing.T) {
	prober := &stubProber{}
	_, ts := newTestServer(t, prober)

	for i := 0; i < 3; i++ {
		_, resp := createScan(t, ts, ScanRequest{Host: "10.0.0.1", StartPort: 1, EndPort: 5})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/api/scans")
	require.NoError(t, err)

	defer resp.Body.Close()

	var statuses []ScanStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))

	assert.Len(t, statuses, 3)
}

// dialEvents opens the progress websocket for a scan and returns every
// JSON message received before the server closes the connection.
func dialEvents(t *testing.T, ts *httptest.Server, id string) []json.RawMessage {
	t.Helper()

	url := strings.Replace(ts.URL, "http://", "ws://", 1) +
		fmt.Sprintf("/api/scans/%s/events", id)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil {
		resp.Body.Close()
	}

	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var messages []json.RawMessage

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
				"server must close the stream cleanly, got: %v", err)

			return messages
		}

		messages = append(messages, json.RawMessage(data))
	}
}

func TestAPI_ScanEventsStream(t *testing.T) {
	prober := &stubProber{open: map[int]bool{22: true}, delay: 10 * time.Millisecond}
	_, ts := newTestServer(t, prober)

	status, resp := createScan(t, ts, ScanRequest{Host: "10.0.0.1", StartPort: 1, EndPort: 50, Concurrency: 5})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	messages := dialEvents(t, ts, status.ID)
	require.NotEmpty(t, messages)

	// Everything before the last message is a progress snapshot.
	for _, raw := range messages[:len(messages)-1] {
		var p models.ScanProgress
		require.NoError(t, json.Unmarshal(raw, &p))
		assert.Equal(t, 50, p.Planned)
	}

	// The stream always ends with the terminal status.
	var final ScanStatus
	require.NoError(t, json.Unmarshal(messages[len(messages)-1], &final))

	assert.Equal(t, status.ID, final.ID)
	assert.Equal(t, models.StateCompleted, final.State)
	require.NotNil(t, final.Report)
	assert.Equal(t, []int{22}, final.Report.OpenPorts)
}

func TestAPI_ScanEventsLateSubscriber(t *testing.T) {
	prober := &stubProber{open: map[int]bool{80: true}}
	_, ts := newTestServer(t, prober)

	status, resp := createScan(t, ts, ScanRequest{Host: "10.0.0.1", StartPort: 1, EndPort: 10})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	waitForReport(t, ts, status.ID)

	// Joining after the scan finished still yields the final status
	// before the clean close.
	messages := dialEvents(t, ts, status.ID)
	require.NotEmpty(t, messages)

	var final ScanStatus
	require.NoError(t, json.Unmarshal(messages[len(messages)-1], &final))

	assert.Equal(t, models.StateCompleted, final.State)
	require.NotNil(t, final.Report)
	assert.Equal(t, []int{80}, final.Report.OpenPorts)
}

func TestAPI_ScanEventsUnknownScan(t *testing.T) {
	prober := &stubProber{}
	_, ts := newTestServer(t, prober)

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/scans/nope/events"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)

	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_UnknownToolRejected(t *testing.T) {
	prober := &stubProber{}
	_, ts := newTestServer(t, prober)

	resp, err := http.Get(ts.URL + "/api/tools/rm?target=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/tools/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "ping requires a target")
}
