package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"grimm.is/boxwatch/internal/coordinator"
	"grimm.is/boxwatch/internal/entity"
	"grimm.is/boxwatch/internal/events"
	"grimm.is/boxwatch/internal/history"
	"grimm.is/boxwatch/internal/msp"
)

type fakeCoordinator struct {
	snap       *coordinator.Snapshot
	status     coordinator.Status
	refreshErr error
	cmdErr     error
	paused     []string
	unpaused   []string
	created    []msp.NewRule
}

func (f *fakeCoordinator) Snapshot() *coordinator.Snapshot { return f.snap }
func (f *fakeCoordinator) Status() coordinator.Status      { return f.status }
func (f *fakeCoordinator) Refresh(ctx context.Context) error {
	return f.refreshErr
}
func (f *fakeCoordinator) PauseRule(ctx context.Context, id string) error {
	f.paused = append(f.paused, id)
	return f.cmdErr
}
func (f *fakeCoordinator) UnpauseRule(ctx context.Context, id string) error {
	f.unpaused = append(f.unpaused, id)
	return f.cmdErr
}
func (f *fakeCoordinator) CreateRule(ctx context.Context, nr msp.NewRule) (msp.Rule, error) {
	if f.cmdErr != nil {
		return msp.Rule{}, f.cmdErr
	}
	f.created = append(f.created, nr)
	return msp.Rule{ID: "new-1", Action: nr.Action, Type: nr.Type, Target: nr.Target, Status: "active"}, nil
}

type fakeEntity struct {
	id           string
	kind         entity.Kind
	state        string
	controllable bool
	onCalls      int
	offCalls     int
	cmdErr       error
}

func (f *fakeEntity) ID() string                 { return f.id }
func (f *fakeEntity) UID() string                { return "uid-" + f.id }
func (f *fakeEntity) Name() string               { return f.id }
func (f *fakeEntity) Kind() entity.Kind          { return f.kind }
func (f *fakeEntity) State() string              { return f.state }
func (f *fakeEntity) Attributes() map[string]any { return map[string]any{"fake": true} }

type fakeSwitch struct{ *fakeEntity }

func (f fakeSwitch) TurnOn(ctx context.Context) error {
	f.fakeEntity.onCalls++
	return f.cmdErr
}

func (f fakeSwitch) TurnOff(ctx context.Context) error {
	f.fakeEntity.offCalls++
	return f.cmdErr
}

type fakeRegistry struct {
	entities map[string]entity.Entity
}

func (f *fakeRegistry) List() []entity.Entity {
	out := make([]entity.Entity, 0, len(f.entities))
	for _, e := range f.entities {
		out = append(out, e)
	}
	return out
}

func (f *fakeRegistry) Get(id string) (entity.Entity, bool) {
	e, ok := f.entities[id]
	return e, ok
}

type fakeJournal struct {
	entries []history.Entry
	gotRule string
	gotLim  int
	err     error
}

func (f *fakeJournal) Recent(ruleID string, limit int) ([]history.Entry, error) {
	f.gotRule = ruleID
	f.gotLim = limit
	return f.entries, f.err
}

func sampleSnapshot() *coordinator.Snapshot {
	rules := map[string]msp.Rule{
		"r1": {ID: "r1", Type: "internet", Target: "mac:AA:BB:CC:DD:EE:01", Action: "block", Status: "active"},
		"r2": {ID: "r2", Type: "category", Target: "games", Action: "block", Status: "paused", Paused: true},
	}
	devices := map[string]msp.Device{
		"AA:BB:CC:DD:EE:01": {MAC: "AA:BB:CC:DD:EE:01", Name: "laptop", Online: true},
	}
	return &coordinator.Snapshot{
		Generation: 3,
		FetchedAt:  time.Now(),
		Rules:      rules,
		Devices:    devices,
	}
}

type testServer struct {
	srv   *Server
	coord *fakeCoordinator
	reg   *fakeRegistry
	jrnl  *fakeJournal
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()

	sw := fakeSwitch{&fakeEntity{id: "switch.block_laptop", kind: entity.KindSwitch, state: "on", controllable: true}}
	sensor := &fakeEntity{id: "sensor.rules", kind: entity.KindSensor, state: "2"}

	coord := &fakeCoordinator{
		snap:   sampleSnapshot(),
		status: coordinator.Status{State: "ready", Generation: 3},
	}
	reg := &fakeRegistry{entities: map[string]entity.Entity{
		sw.id:     sw,
		sensor.id: sensor,
	}}
	jrnl := &fakeJournal{entries: []history.Entry{
		{ID: 1, Generation: 2, Change: "added", RuleID: "r2"},
	}}

	srv := NewServer(ServerOptions{
		Listen:      "127.0.0.1:0",
		APIKey:      apiKey,
		Coordinator: coord,
		Registry:    reg,
		Journal:     jrnl,
	})
	return &testServer{srv: srv, coord: coord, reg: reg, jrnl: jrnl}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rdr)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t, "secret")
	w := ts.do(t, "GET", "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, "secret")

	if w := ts.do(t, "GET", "/api/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: expected 401, got %d", w.Code)
	}
	if w := ts.do(t, "GET", "/api/status", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", w.Code)
	}
	if w := ts.do(t, "GET", "/api/status", "secret", ""); w.Code != http.StatusOK {
		t.Errorf("valid key: expected 200, got %d", w.Code)
	}
}

func TestAuthDisabledWhenNoKey(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(t, "GET", "/api/status", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 without auth, got %d", w.Code)
	}
}

func TestListEntities(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do(t, "GET", "/api/entities", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var views []entityView
	if err := json.NewDecoder(w.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("expected 2 entities, got %d", len(views))
	}
}

func TestGetEntityNotFound(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(t, "GET", "/api/entities/switch.missing", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTurnOnSwitch(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do(t, "POST", "/api/entities/switch.block_laptop/turn_on", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	e, _ := ts.reg.Get("switch.block_laptop")
	if e.(fakeSwitch).fakeEntity.onCalls != 1 {
		t.Error("expected one turn_on call")
	}
}

func TestTurnOnSensorRejected(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(t, "POST", "/api/entities/sensor.rules/turn_on", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for sensor command, got %d", w.Code)
	}
}

func TestListRules(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do(t, "GET", "/api/rules", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Generation uint64     `json:"generation"`
		Rules      []msp.Rule `json:"rules"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Generation != 3 || len(resp.Rules) != 2 {
		t.Errorf("unexpected response: gen=%d rules=%d", resp.Generation, len(resp.Rules))
	}
}

func TestListRulesStatusFilter(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do(t, "GET", "/api/rules?status=paused", "", "")
	var resp struct {
		Rules []msp.Rule `json:"rules"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Rules) != 1 || resp.Rules[0].ID != "r2" {
		t.Errorf("expected only r2, got %+v", resp.Rules)
	}
}

func TestListRulesNoSnapshot(t *testing.T) {
	ts := newTestServer(t, "")
	ts.coord.snap = nil
	if w := ts.do(t, "GET", "/api/rules", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestGetRule(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do(t, "GET", "/api/rules/r1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := ts.do(t, "GET", "/api/rules/r99", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateRule(t *testing.T) {
	ts := newTestServer(t, "")
	body := `{"action":"block","type":"internet","target":"mac:AA:BB:CC:DD:EE:02"}`
	w := ts.do(t, "POST", "/api/rules", "", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(ts.coord.created) != 1 || ts.coord.created[0].Target != "mac:AA:BB:CC:DD:EE:02" {
		t.Errorf("unexpected created rules: %+v", ts.coord.created)
	}
}

func TestCreateRuleValidationError(t *testing.T) {
	ts := newTestServer(t, "")
	ts.coord.cmdErr = &msp.Error{Kind: msp.KindValidation, Op: "create rule", Message: "action is required"}
	w := ts.do(t, "POST", "/api/rules", "", `{"type":"internet"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateRuleBadJSON(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(t, "POST", "/api/rules", "", "{nope"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPauseUnpause(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(t, "POST", "/api/rules/r1/pause", "", ""); w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", w.Code)
	}
	if w := ts.do(t, "POST", "/api/rules/r2/unpause", "", ""); w.Code != http.StatusOK {
		t.Fatalf("unpause: expected 200, got %d", w.Code)
	}
	if len(ts.coord.paused) != 1 || ts.coord.paused[0] != "r1" {
		t.Errorf("pause not recorded: %v", ts.coord.paused)
	}
	if len(ts.coord.unpaused) != 1 || ts.coord.unpaused[0] != "r2" {
		t.Errorf("unpause not recorded: %v", ts.coord.unpaused)
	}
}

func TestPauseUpstreamError(t *testing.T) {
	ts := newTestServer(t, "")
	ts.coord.cmdErr = &msp.Error{Kind: msp.KindConnection, Op: "pause rule", Message: "dial tcp: timeout"}
	if w := ts.do(t, "POST", "/api/rules/r1/pause", "", ""); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestChanges(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do(t, "GET", "/api/changes?rule=r2&limit=10", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ts.jrnl.gotRule != "r2" || ts.jrnl.gotLim != 10 {
		t.Errorf("journal query not forwarded: rule=%q limit=%d", ts.jrnl.gotRule, ts.jrnl.gotLim)
	}
}

func TestChangesInvalidLimit(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(t, "GET", "/api/changes?limit=zero", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChangesWithoutJournal(t *testing.T) {
	srv := NewServer(ServerOptions{
		Coordinator: &fakeCoordinator{},
		Registry:    &fakeRegistry{},
	})
	req := httptest.NewRequest("GET", "/api/changes", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t, "")
	w := ts.do(t, "POST", "/api/refresh", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st coordinator.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "ready" {
		t.Errorf("expected ready state, got %q", st.State)
	}
}

func TestStatusIncludesHubStats(t *testing.T) {
	hub := events.NewHub()
	hub.EmitSnapshotUpdated(1, 2, 1, 1, 1)

	srv := NewServer(ServerOptions{
		Coordinator: &fakeCoordinator{status: coordinator.Status{State: "ready"}},
		Registry:    &fakeRegistry{},
		Hub:         hub,
	})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["events"]; !ok {
		t.Error("expected events stats in status")
	}
}

func TestLogsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(t, "GET", "/api/logs?limit=5", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
