package proxmox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovalv/pvewatch/internal/config"
	"github.com/mkovalv/pvewatch/internal/logger"
	"github.com/mkovalv/pvewatch/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(config.ProxmoxConfig{
		Address:        srv.URL,
		TokenID:        "pvewatch@pve!test",
		TokenSecret:    "secret",
		RequestTimeout: 5 * time.Second,
	}, logger.New())
	require.NoError(t, err)
	return client
}

func TestNewRejectsInvalidAddress(t *testing.T) {
	_, err := New(config.ProxmoxConfig{
		Address:        "not a url",
		TokenID:        "a",
		TokenSecret:    "b",
		RequestTimeout: time.Second,
	}, logger.New())
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestListGuests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/cluster/resources", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PVEAPIToken=pvewatch@pve!test=secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data": [
			{"vmid": 100, "node": "pve1", "name": "web", "type": "qemu", "status": "running",
			 "cpu": 0.12, "maxcpu": 4, "mem": 1073741824, "maxmem": 4294967296, "uptime": 3600, "tags": "prod"},
			{"vmid": "101", "node": "pve2", "name": "ct", "type": "lxc", "status": "weird-status",
			 "cpu": "0.01", "maxcpu": "2", "mem": 1024, "maxmem": 2048, "uptime": "60"},
			{"node": "pve1", "type": "storage", "status": "available"}
		]}`))
	})

	client := newTestClient(t, mux)
	guests, err := client.ListGuests(context.Background())
	require.NoError(t, err)
	require.Len(t, guests, 2, "non-guest resource rows are filtered out")

	web := guests[0]
	assert.Equal(t, model.GuestKey{Node: "pve1", VMID: 100}, web.Key)
	assert.Equal(t, model.KindQemu, web.Kind)
	assert.Equal(t, model.StatusRunning, web.Status)
	assert.Equal(t, int64(1073741824), web.MemUsed)
	assert.Equal(t, int64(4294967296), web.MemTotal)
	assert.Equal(t, 4, web.CPUs)
	assert.Equal(t, "prod", web.Tags)

	ct := guests[1]
	assert.Equal(t, model.GuestKey{Node: "pve2", VMID: 101}, ct.Key, "string vmid is normalized")
	assert.Equal(t, model.StatusUnknown, ct.Status, "unknown vocabulary maps to unknown")
	assert.Equal(t, "weird-status", ct.RawStatus)
}

func TestListGuestsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/cluster/resources", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": []}`))
	})

	client := newTestClient(t, mux)
	_, err := client.ListGuests(context.Background())
	assert.ErrorIs(t, err, ErrNoEntities)
}

func TestRequestErrorCarriesStatusAndBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/cluster/resources", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`permission denied`))
	})

	client := newTestClient(t, mux)
	_, err := client.ListGuests(context.Background())

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.Code)
	assert.Equal(t, "permission denied", reqErr.Body)
}

func TestDecodeErrorOnMalformedBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/cluster/resources", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>login page</html>`))
	})

	client := newTestClient(t, mux)
	_, err := client.ListGuests(context.Background())

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestNodeStatusNestedMemory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {
			"cpu": 0.3,
			"memory": {"used": 8589934592, "total": 34359738368, "free": 25769803776},
			"swap": {"used": 0, "total": 8589934592},
			"wait": 0.015,
			"uptime": 86400
		}}`))
	})

	client := newTestClient(t, mux)
	status, err := client.NodeStatus(context.Background(), "pve1")
	require.NoError(t, err)

	assert.Equal(t, "pve1", status.Node)
	assert.InDelta(t, 0.3, status.CPU, 1e-9)
	assert.Equal(t, int64(8589934592), status.MemUsed)
	assert.Equal(t, int64(34359738368), status.MemTotal)
	assert.Equal(t, int64(8589934592), status.SwapTotal)
	assert.InDelta(t, 1.5, status.IOWait, 1e-9)
}

func TestCurrentStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/qemu/100/status/current", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"status": "running", "cpu": 0.07, "cpus": 4,
			"mem": 2147483648, "maxmem": 4294967296, "uptime": 7200, "name": "web"}}`))
	})

	client := newTestClient(t, mux)
	status, err := client.CurrentStatus(context.Background(), model.GuestKey{Node: "pve1", VMID: 100}, model.KindQemu)
	require.NoError(t, err)

	assert.Equal(t, model.StatusRunning, status.Status)
	assert.Equal(t, int64(2147483648), status.MemUsed)
	assert.Equal(t, int64(7200), status.Uptime)
}

func TestSubmitActionReturnsTicket(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/qemu/100/status/shutdown", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "60", r.PostForm.Get("timeout"))
		w.Write([]byte(`{"data": "UPID:pve1:0001:shutdown"}`))
	})

	client := newTestClient(t, mux)
	upid, err := client.SubmitAction(context.Background(), model.GuestKey{Node: "pve1", VMID: 100}, model.KindQemu, model.ActionShutdown, map[string]string{"timeout": "60"})
	require.NoError(t, err)
	assert.Equal(t, "UPID:pve1:0001:shutdown", upid)
}

func TestJobStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/tasks/UPID:pve1:0001/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"status": "stopped", "exitstatus": "OK"}}`))
	})

	client := newTestClient(t, mux)
	status, err := client.JobStatus(context.Background(), "pve1", "UPID:pve1:0001")
	require.NoError(t, err)

	assert.True(t, status.Terminal())
	assert.Equal(t, "OK", status.ExitStatus)
}

func TestHistoricalSamplesTrimsWindow(t *testing.T) {
	now := time.Now()
	old := now.Add(-30 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/qemu/100/rrddata", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [
			{"time": ` + itoa(old.Unix()) + `, "cpu": 0.1, "mem": 100, "maxmem": 1000},
			{"time": ` + itoa(now.Unix()) + `, "cpu": 0.2, "mem": 200, "maxmem": 1000}
		]}`))
	})

	client := newTestClient(t, mux)
	samples, err := client.HistoricalSamples(context.Background(), model.GuestKey{Node: "pve1", VMID: 100}, model.KindQemu, 15*time.Minute)
	require.NoError(t, err)

	require.Len(t, samples, 1, "samples outside the window are trimmed")
	assert.InDelta(t, 0.2, samples[0].CPU, 1e-9)
}

func TestContextCancellation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/cluster/resources", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	client := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ListGuests(ctx)
	assert.Error(t, err, "request must respect context cancellation")
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
