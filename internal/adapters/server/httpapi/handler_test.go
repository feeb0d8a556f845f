package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hylla/ideadispatch/internal/adapters/server/common"
	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/hylla/ideadispatch/internal/killswitch"
)

// stubDispatchService provides deterministic dispatch responses for handler tests.
type stubDispatchService struct {
	hook       app.HookResult
	rollup     app.RollupResult
	gate       app.GateDecision
	kill       killswitch.Decision
	validation app.PacketValidation
	entry      domain.QueueEntry
	queue      domain.QueueStateDocument
	err        error

	lastHook       common.HookRequest
	lastGate       common.GateRequest
	lastKill       common.KillSwitchRequest
	lastValidate   common.ValidateRequest
	lastTransition common.TransitionRequest
}

// RunHook records the request and returns the configured result.
func (s *stubDispatchService) RunHook(_ context.Context, req common.HookRequest) (app.HookResult, error) {
	s.lastHook = req
	return s.hook, s.err
}

// Rollup returns the configured rollup.
func (s *stubDispatchService) Rollup(context.Context) (app.RollupResult, error) {
	return s.rollup, s.err
}

// Gate records the request and returns the configured decision.
func (s *stubDispatchService) Gate(_ context.Context, req common.GateRequest) (app.GateDecision, error) {
	s.lastGate = req
	return s.gate, s.err
}

// EngageKillSwitch records the request and returns the configured decision.
func (s *stubDispatchService) EngageKillSwitch(_ context.Context, req common.KillSwitchRequest) (killswitch.Decision, error) {
	s.lastKill = req
	return s.kill, s.err
}

// ValidatePacket records the request and returns the configured validation.
func (s *stubDispatchService) ValidatePacket(_ context.Context, req common.ValidateRequest) (app.PacketValidation, error) {
	s.lastValidate = req
	return s.validation, s.err
}

// TransitionEntry records the request and returns the configured entry.
func (s *stubDispatchService) TransitionEntry(_ context.Context, req common.TransitionRequest) (domain.QueueEntry, error) {
	s.lastTransition = req
	if s.err != nil {
		return domain.QueueEntry{}, s.err
	}
	return s.entry, nil
}

// QueueState returns the configured queue document.
func (s *stubDispatchService) QueueState(context.Context) (domain.QueueStateDocument, error) {
	return s.queue, s.err
}

// serve runs one request through a handler and returns the recorder.
func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// decodeErrorEnvelope decodes one structured API error response from the recorder body.
func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var envelope ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return envelope
}

// TestHandlerHookSuccess verifies hook requests are decoded and results returned.
func TestHandlerHookSuccess(t *testing.T) {
	svc := &stubDispatchService{hook: app.HookResult{
		OK:         true,
		Dispatched: []domain.DispatchPacket{{DispatchID: "IDEA-DISPATCH-20260301090000-ABCDEF012345"}},
		Warnings:   []string{},
	}}
	handler := NewHandler(svc)

	rec := serve(handler, http.MethodPost, "/hook", `{"mode":"trial","persist":true,"events":[{"artifact_id":"HEAD-SELL-PACK","before_sha":"a","after_sha":"b"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.lastHook.Mode != common.HookModeTrial || !svc.lastHook.Persist {
		t.Fatalf("unexpected hook request %#v", svc.lastHook)
	}
	if len(svc.lastHook.Events) != 1 || svc.lastHook.Events[0].ArtifactID != "HEAD-SELL-PACK" {
		t.Fatalf("unexpected events %#v", svc.lastHook.Events)
	}
	var got app.HookResult
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(got.Dispatched) != 1 || got.Dispatched[0].DispatchID != "IDEA-DISPATCH-20260301090000-ABCDEF012345" {
		t.Fatalf("unexpected response %#v", got)
	}
}

// TestHandlerHookFailureShape verifies fail-closed hook results map to 422.
func TestHandlerHookFailureShape(t *testing.T) {
	svc := &stubDispatchService{hook: app.HookResult{
		OK:         false,
		Dispatched: []domain.DispatchPacket{},
		Warnings:   []string{"registry unavailable"},
		Error:      "registry unavailable",
	}}
	rec := serve(NewHandler(svc), http.MethodPost, "/hook", `{"events":[]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if !strings.Contains(rec.Body.String(), "registry unavailable") {
		t.Fatalf("expected failure reason in body, got %s", rec.Body.String())
	}
}

// TestHandlerReadEndpoints verifies the rollup and queue projections.
func TestHandlerReadEndpoints(t *testing.T) {
	svc := &stubDispatchService{
		rollup: app.RollupResult{Ready: true, Rollup: app.IdeasMetricsRollup{CycleCount: 3}},
		queue: domain.QueueStateDocument{
			SchemaVersion: domain.QueueStateSchemaVersion,
			Business:      "HEAD",
			Entries:       []domain.QueueEntry{},
		},
	}
	handler := NewHandler(svc)

	rec := serve(handler, http.MethodGet, "/rollup", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rollup status = %d, want %d", rec.Code, http.StatusOK)
	}
	var rollup app.RollupResult
	if err := json.NewDecoder(rec.Body).Decode(&rollup); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !rollup.Ready || rollup.Rollup.CycleCount != 3 {
		t.Fatalf("unexpected rollup %#v", rollup)
	}

	rec = serve(handler, http.MethodGet, "/queue/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("queue status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"business":"HEAD"`) {
		t.Fatalf("expected queue document, got %s", rec.Body.String())
	}
}

// TestHandlerGateAndKillSwitch verifies optional bodies and kill switch responses.
func TestHandlerGateAndKillSwitch(t *testing.T) {
	kill := killswitch.Decision{Mode: "advisory", ActivationBlocked: true, Reason: "freeze"}
	svc := &stubDispatchService{
		gate: app.GateDecision{Permitted: false, Mode: app.GateModeAdvisory, Reason: "kill switch engaged", KillSwitch: &kill},
		kill: kill,
	}
	handler := NewHandler(svc)

	rec := serve(handler, http.MethodPost, "/gate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("empty gate status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = serve(handler, http.MethodPost, "/gate", `{"measurements":{"review_period_days":14},"kill_switch":true,"kill_switch_reason":"freeze"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("gate status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !svc.lastGate.KillSwitch || svc.lastGate.KillSwitchReason != "freeze" || svc.lastGate.Measurements.ReviewPeriodDays == nil || *svc.lastGate.Measurements.ReviewPeriodDays != 14 {
		t.Fatalf("unexpected gate request %#v", svc.lastGate)
	}
	var decision app.GateDecision
	if err := json.NewDecoder(rec.Body).Decode(&decision); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decision.Permitted || decision.KillSwitch == nil || !decision.KillSwitch.ActivationBlocked {
		t.Fatalf("unexpected decision %#v", decision)
	}

	rec = serve(handler, http.MethodPost, "/kill_switch", `{"reason":"freeze","actor":"ops"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("kill switch status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastKill.Reason != "freeze" || svc.lastKill.Actor != "ops" {
		t.Fatalf("unexpected kill request %#v", svc.lastKill)
	}
	if strings.Contains(rec.Body.String(), "warning") {
		t.Fatalf("did not expect warning, got %s", rec.Body.String())
	}
}

// TestHandlerKillSwitchAuditFailureStillAnswers verifies audit failures surface as warnings.
func TestHandlerKillSwitchAuditFailureStillAnswers(t *testing.T) {
	svc := &stubDispatchService{
		kill: killswitch.Decision{Mode: "advisory", ActivationBlocked: true, Reason: "manual"},
		err:  errors.New("append audit record: disk full"),
	}
	rec := serve(NewHandler(svc), http.MethodPost, "/kill_switch", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"activation_blocked":true`) || !strings.Contains(body, "disk full") {
		t.Fatalf("expected decision and warning, got %s", body)
	}
}

// TestHandlerValidateAndTransition verifies packet validation and queue transitions.
func TestHandlerValidateAndTransition(t *testing.T) {
	svc := &stubDispatchService{
		validation: app.PacketValidation{Valid: false, Errors: []string{"$.dispatch_id: required"}},
		entry: domain.QueueEntry{
			DispatchID: "IDEA-DISPATCH-1",
		},
	}
	handler := NewHandler(svc)

	rec := serve(handler, http.MethodPost, "/validate", `{"packet":{"schema_version":"dispatch.v2"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d, want %d", rec.Code, http.StatusOK)
	}
	if string(svc.lastValidate.Packet) != `{"schema_version":"dispatch.v2"}` {
		t.Fatalf("unexpected packet %s", svc.lastValidate.Packet)
	}
	if !strings.Contains(rec.Body.String(), `"valid":false`) {
		t.Fatalf("expected invalid verdict, got %s", rec.Body.String())
	}

	rec = serve(handler, http.MethodPost, "/queue/IDEA-DISPATCH-1/transition", `{"to":"processed","actor":"ops"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := common.TransitionRequest{DispatchID: "IDEA-DISPATCH-1", To: "processed", Actor: "ops"}
	if svc.lastTransition != want {
		t.Fatalf("transition request = %#v, want %#v", svc.lastTransition, want)
	}
}

// TestHandlerTransitionErrorMapping verifies adapter errors map to HTTP statuses.
func TestHandlerTransitionErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", common.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", common.ErrConflict, http.StatusConflict, "conflict"},
		{"invalid", common.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{"unavailable", common.ErrUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubDispatchService{err: tt.err}
			rec := serve(NewHandler(svc), http.MethodPost, "/queue/d1/transition", `{"to":"blocked"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decodeErrorEnvelope(t, rec).Error.Code; got != tt.wantCode {
				t.Fatalf("error.code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

// TestHandlerRouteGuards verifies method guards and unknown-route handling.
func TestHandlerRouteGuards(t *testing.T) {
	handler := NewHandler(&stubDispatchService{})

	cases := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantCode   string
		wantAllow  string
	}{
		{"hook requires post", http.MethodGet, "/hook", http.StatusMethodNotAllowed, "method_not_allowed", http.MethodPost},
		{"rollup requires get", http.MethodPost, "/rollup", http.StatusMethodNotAllowed, "method_not_allowed", http.MethodGet},
		{"gate requires post", http.MethodGet, "/gate", http.StatusMethodNotAllowed, "method_not_allowed", http.MethodPost},
		{"kill switch requires post", http.MethodGet, "/kill_switch", http.StatusMethodNotAllowed, "method_not_allowed", http.MethodPost},
		{"validate requires post", http.MethodGet, "/validate", http.StatusMethodNotAllowed, "method_not_allowed", http.MethodPost},
		{"queue requires get", http.MethodDelete, "/queue", http.StatusMethodNotAllowed, "method_not_allowed", http.MethodGet},
		{"transition requires post", http.MethodGet, "/queue/d1/transition", http.StatusMethodNotAllowed, "method_not_allowed", http.MethodPost},
		{"unknown route", http.MethodGet, "/not/a/route", http.StatusNotFound, "not_found", ""},
		{"nested transition id", http.MethodPost, "/queue/a/b/transition", http.StatusNotFound, "not_found", ""},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(handler, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decodeErrorEnvelope(t, rec).Error.Code; got != tt.wantCode {
				t.Fatalf("error.code = %q, want %q", got, tt.wantCode)
			}
			if got := rec.Header().Get("Allow"); got != tt.wantAllow {
				t.Fatalf("Allow header = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

// TestHandlerServiceUnavailable verifies a nil service maps to 503.
func TestHandlerServiceUnavailable(t *testing.T) {
	rec := serve(NewHandler(nil), http.MethodGet, "/rollup", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

// TestHandlerJSONValidation verifies malformed and unknown-field bodies are rejected.
func TestHandlerJSONValidation(t *testing.T) {
	handler := NewHandler(&stubDispatchService{})
	cases := map[string]string{
		"malformed":     `{"events":`,
		"unknown field": `{"events":[],"surprise":true}`,
		"trailing":      `{"events":[]}{"events":[]}`,
		"empty":         ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

// TestDecodeJSONBodyCanceledContext verifies canceled requests stop after decode.
func TestDecodeJSONBodyCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"events":[]}`)).WithContext(ctx)
	var payload common.HookRequest
	err := decodeJSONBody(req.Context(), httptest.NewRecorder(), req, &payload)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("decodeJSONBody() error = %v, want context.Canceled", err)
	}
}

// TestResolveTransitionID verifies transition path parsing.
func TestResolveTransitionID(t *testing.T) {
	cases := []struct {
		path   string
		wantID string
		wantOK bool
	}{
		{"queue/d1/transition", "d1", true},
		{"queue//transition", "", false},
		{"queue/a/b/transition", "", false},
		{"queue/d1", "", false},
		{"rollup", "", false},
	}
	for _, tt := range cases {
		id, ok := resolveTransitionID(tt.path)
		if id != tt.wantID || ok != tt.wantOK {
			t.Fatalf("resolveTransitionID(%q) = %q, %v; want %q, %v", tt.path, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

// TestNormalizePath verifies path normalization for route matching.
func TestNormalizePath(t *testing.T) {
	if got := normalizePath("  /queue/ "); got != "queue" {
		t.Fatalf("normalizePath() = %q, want queue", got)
	}
}
