package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mkovalv/pvewatch/internal/config"
	"github.com/mkovalv/pvewatch/internal/model"
	"github.com/mkovalv/pvewatch/internal/util"
)

// Client defines the interface for Proxmox VE API operations consumed by the
// pollers and the action orchestrator
type Client interface {
	// ListGuests returns every VM and container visible in the cluster
	ListGuests(ctx context.Context) ([]model.Guest, error)

	// NodeStatus returns the aggregate load of one cluster node
	NodeStatus(ctx context.Context, node string) (model.NodeStatus, error)

	// GuestDetail returns the full configuration/status payload of one guest
	GuestDetail(ctx context.Context, key model.GuestKey, kind model.GuestKind) (model.GuestDetail, error)

	// CurrentStatus returns the lightweight status sample of one guest
	CurrentStatus(ctx context.Context, key model.GuestKey, kind model.GuestKind) (model.CurrentStatus, error)

	// HistoricalSamples returns the recent metric time series of one guest
	HistoricalSamples(ctx context.Context, key model.GuestKey, kind model.GuestKind, window time.Duration) ([]model.Sample, error)

	// SubmitAction submits a power action and returns the task ticket (UPID)
	SubmitAction(ctx context.Context, key model.GuestKey, kind model.GuestKind, action model.ActionKind, params map[string]string) (string, error)

	// JobStatus polls the state of an asynchronous task
	JobStatus(ctx context.Context, node, upid string) (model.JobStatus, error)
}

// apiClient implements Client against the /api2/json surface
type apiClient struct {
	base       *url.URL
	authHeader string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Proxmox API client with token auth and a mandatory
// per-request timeout
func New(cfg config.ProxmoxConfig, logger *slog.Logger) (Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Address, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, cfg.Address)
	}

	tlsConfig, err := util.LoadTLSConfig(cfg.TLS, cfg.InsecureTLS)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS config: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &apiClient{
		base:       base,
		authHeader: fmt.Sprintf("PVEAPIToken=%s=%s", cfg.TokenID, cfg.TokenSecret),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// envelope is the standard {"data": ...} wrapper on every API response
type envelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *apiClient) do(ctx context.Context, method, path string, form url.Values, op string, out any) error {
	u := *c.base
	if i := strings.IndexByte(path, '?'); i >= 0 {
		u.Path = "/api2/json" + path[:i]
		u.RawQuery = path[i+1:]
	} else {
		u.Path = "/api2/json" + path
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cluster request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &DecodeError{Op: op, Err: err}
		}
	}

	return nil
}

// resourceRow is one row of the cluster-wide resources listing
type resourceRow struct {
	VMID   flexInt   `json:"vmid"`
	Node   string    `json:"node"`
	Name   string    `json:"name"`
	Type   string    `json:"type"` // qemu | lxc
	Status string    `json:"status"`
	CPU    flexFloat `json:"cpu"`
	MaxCPU flexInt   `json:"maxcpu"`
	Mem    memValue  `json:"mem"`
	MaxMem flexInt   `json:"maxmem"`
	Uptime flexInt   `json:"uptime"`
	Tags   string    `json:"tags"`
}

func (c *apiClient) ListGuests(ctx context.Context) ([]model.Guest, error) {
	var rows []resourceRow
	if err := c.do(ctx, http.MethodGet, "/cluster/resources?type=vm", nil, "resources", &rows); err != nil {
		return nil, err
	}

	guests := make([]model.Guest, 0, len(rows))
	for _, r := range rows {
		if r.Type != string(model.KindQemu) && r.Type != string(model.KindLXC) {
			continue
		}
		guests = append(guests, model.Guest{
			Key:       model.GuestKey{Node: r.Node, VMID: int(r.VMID)},
			Name:      r.Name,
			Kind:      model.GuestKind(r.Type),
			Status:    model.ParseStatus(r.Status),
			RawStatus: r.Status,
			CPUs:      int(r.MaxCPU),
			CPU:       float64(r.CPU),
			MemUsed:   r.Mem.Used,
			MemTotal:  int64(r.MaxMem),
			Uptime:    int64(r.Uptime),
			Tags:      r.Tags,
		})
	}

	if len(guests) == 0 {
		return nil, ErrNoEntities
	}

	return guests, nil
}

// nodeStatusRow is the node status payload; memory and swap arrive nested
// here, unlike the flat resources listing
type nodeStatusRow struct {
	CPU    flexFloat `json:"cpu"`
	Memory memValue  `json:"memory"`
	Swap   memValue  `json:"swap"`
	Wait   flexFloat `json:"wait"`
	Uptime flexInt   `json:"uptime"`
}

func (c *apiClient) NodeStatus(ctx context.Context, node string) (model.NodeStatus, error) {
	var row nodeStatusRow
	path := fmt.Sprintf("/nodes/%s/status", url.PathEscape(node))
	if err := c.do(ctx, http.MethodGet, path, nil, "node status", &row); err != nil {
		return model.NodeStatus{}, err
	}

	return model.NodeStatus{
		Node:      node,
		CPU:       float64(row.CPU),
		MemUsed:   row.Memory.Used,
		MemTotal:  row.Memory.Total,
		SwapUsed:  row.Swap.Used,
		SwapTotal: row.Swap.Total,
		IOWait:    float64(row.Wait) * 100,
		Uptime:    int64(row.Uptime),
	}, nil
}

// statusRow is the per-guest status/current payload
type statusRow struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CPU       flexFloat `json:"cpu"`
	CPUs      flexInt   `json:"cpus"`
	Mem       memValue  `json:"mem"`
	MaxMem    flexInt   `json:"maxmem"`
	Disk      flexInt   `json:"disk"`
	MaxDisk   flexInt   `json:"maxdisk"`
	NetIn     flexInt   `json:"netin"`
	NetOut    flexInt   `json:"netout"`
	Uptime    flexInt   `json:"uptime"`
	Tags      string    `json:"tags"`
	QMPStatus string    `json:"qmpstatus"`
}

func guestPath(key model.GuestKey, kind model.GuestKind) string {
	return fmt.Sprintf("/nodes/%s/%s/%d", url.PathEscape(key.Node), kind, key.VMID)
}

func (c *apiClient) CurrentStatus(ctx context.Context, key model.GuestKey, kind model.GuestKind) (model.CurrentStatus, error) {
	var row statusRow
	if err := c.do(ctx, http.MethodGet, guestPath(key, kind)+"/status/current", nil, "current status", &row); err != nil {
		return model.CurrentStatus{}, err
	}

	return model.CurrentStatus{
		Status:    model.ParseStatus(row.Status),
		RawStatus: row.Status,
		CPU:       float64(row.CPU),
		MemUsed:   row.Mem.Used,
		MemTotal:  int64(row.MaxMem),
		Uptime:    int64(row.Uptime),
	}, nil
}

func (c *apiClient) GuestDetail(ctx context.Context, key model.GuestKey, kind model.GuestKind) (model.GuestDetail, error) {
	var row statusRow
	if err := c.do(ctx, http.MethodGet, guestPath(key, kind)+"/status/current", nil, "guest detail", &row); err != nil {
		return model.GuestDetail{}, err
	}

	return model.GuestDetail{
		Key:       key,
		Name:      row.Name,
		Kind:      kind,
		Status:    model.ParseStatus(row.Status),
		RawStatus: row.Status,
		CPUs:      int(row.CPUs),
		CPU:       float64(row.CPU),
		MemUsed:   row.Mem.Used,
		MemTotal:  int64(row.MaxMem),
		DiskUsed:  int64(row.Disk),
		DiskTotal: int64(row.MaxDisk),
		NetIn:     int64(row.NetIn),
		NetOut:    int64(row.NetOut),
		Uptime:    int64(row.Uptime),
		Tags:      row.Tags,
	}, nil
}

// sampleRow is one point of the rrddata time series
type sampleRow struct {
	Time   flexInt   `json:"time"`
	CPU    flexFloat `json:"cpu"`
	Mem    memValue  `json:"mem"`
	MaxMem flexInt   `json:"maxmem"`
}

func (c *apiClient) HistoricalSamples(ctx context.Context, key model.GuestKey, kind model.GuestKind, window time.Duration) ([]model.Sample, error) {
	// rrddata only offers fixed timeframes; "hour" is the finest and covers
	// every retention window the pollers use. Trimming happens client-side.
	var rows []sampleRow
	path := guestPath(key, kind) + "/rrddata?timeframe=hour&cf=AVERAGE"
	if err := c.do(ctx, http.MethodGet, path, nil, "rrddata", &rows); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-window)
	samples := make([]model.Sample, 0, len(rows))
	for _, r := range rows {
		ts := time.Unix(int64(r.Time), 0)
		if ts.Before(cutoff) {
			continue
		}
		samples = append(samples, model.Sample{
			Time:     ts,
			CPU:      float64(r.CPU),
			MemUsed:  r.Mem.Used,
			MemTotal: int64(r.MaxMem),
		})
	}

	return samples, nil
}

func (c *apiClient) SubmitAction(ctx context.Context, key model.GuestKey, kind model.GuestKind, action model.ActionKind, params map[string]string) (string, error) {
	if !action.Valid() {
		return "", fmt.Errorf("unsupported action %q", action)
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	var upid string
	path := guestPath(key, kind) + "/status/" + string(action)
	if err := c.do(ctx, http.MethodPost, path, form, "submit action", &upid); err != nil {
		return "", err
	}
	if upid == "" {
		return "", &DecodeError{Op: "submit action", Err: fmt.Errorf("empty task ticket")}
	}

	c.logger.Debug("submitted action",
		slog.String("guest", key.String()),
		slog.String("action", string(action)),
		slog.String("upid", upid),
	)

	return upid, nil
}

// jobStatusRow is the task status payload
type jobStatusRow struct {
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus"`
}

func (c *apiClient) JobStatus(ctx context.Context, node, upid string) (model.JobStatus, error) {
	var row jobStatusRow
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", url.PathEscape(node), url.PathEscape(upid))
	if err := c.do(ctx, http.MethodGet, path, nil, "task status", &row); err != nil {
		return model.JobStatus{}, err
	}

	return model.JobStatus{
		Status:     row.Status,
		ExitStatus: row.ExitStatus,
	}, nil
}
