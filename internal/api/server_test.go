package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/SpaceUY/safe-agentathon/internal/agent"
	"github.com/SpaceUY/safe-agentathon/internal/config"
	"github.com/SpaceUY/safe-agentathon/internal/interactions"
	"github.com/SpaceUY/safe-agentathon/internal/storage/mysql"
)

type stubAgent struct{}

func (stubAgent) State() agent.State                 { return agent.StateIdle }
func (stubAgent) SignerAddress() common.Address      { return common.HexToAddress("0xabc") }
func (stubAgent) WaitingOperation() (string, bool)   { return "", false }
func (stubAgent) ExecutionOperation() (string, bool) { return "", false }
func (stubAgent) ConfirmTwoFA() bool                 { return false }

func testServer(t *testing.T, enabled ...string) *Server {
	t.Helper()
	cfg := &config.Config{Interactions: enabled}
	repo, err := mysql.NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("memory repository: %v", err)
	}
	registry := interactions.NewRegistry(cfg, stubAgent{}, "JBSWY3DPEHPK3PXP", repo)
	return NewServer("127.0.0.1:0", registry)
}

func decodeEnvelope(t *testing.T, body string) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body)
	}
	return envelope
}

func TestInteractionSuccess(t *testing.T) {
	server := testServer(t, interactions.NameGetSignerAddress)

	req := httptest.NewRequest(http.MethodGet, "/?interaction=get-signer-address", nil)
	rec := httptest.NewRecorder()
	server.handleInteraction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if result["address"] != common.HexToAddress("0xabc").Hex() {
		t.Fatalf("unexpected address %q", result["address"])
	}
}

func TestInteractionNotConfigured(t *testing.T) {
	server := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/?interaction=push-two-factor", nil)
	rec := httptest.NewRecorder()
	server.handleInteraction(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	envelope := decodeEnvelope(t, rec.Body.String())
	if envelope.StatusCode != http.StatusForbidden {
		t.Fatalf("envelope statusCode = %d", envelope.StatusCode)
	}
	if envelope.Path != "/?interaction=push-two-factor" {
		t.Fatalf("envelope path = %q", envelope.Path)
	}
	if envelope.Message != "Interaction not found or not configured" {
		t.Fatalf("envelope message = %q", envelope.Message)
	}
	if _, err := time.Parse(time.RFC3339, envelope.Timestamp); err != nil {
		t.Fatalf("envelope timestamp %q: %v", envelope.Timestamp, err)
	}
}

func TestInteractionBadRequestBody(t *testing.T) {
	server := testServer(t, interactions.NamePushTwoFactor)

	req := httptest.NewRequest(http.MethodPost, "/?interaction=push-two-factor", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	server.handleInteraction(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestInteractionEmptyCodeRejected(t *testing.T) {
	server := testServer(t, interactions.NamePushTwoFactor)

	req := httptest.NewRequest(http.MethodPost, "/?interaction=push-two-factor", strings.NewReader(`{"params":{}}`))
	rec := httptest.NewRecorder()
	server.handleInteraction(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	envelope := decodeEnvelope(t, rec.Body.String())
	if envelope.Message == "Unexpected error" {
		t.Fatalf("argument errors should keep their message")
	}
}

func TestInteractionUnknownPath(t *testing.T) {
	server := testServer(t, interactions.NameGetSignerAddress)

	req := httptest.NewRequest(http.MethodGet, "/nothing-here", nil)
	rec := httptest.NewRecorder()
	server.handleInteraction(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestInteractionMethodNotAllowed(t *testing.T) {
	server := testServer(t, interactions.NameGetSignerAddress)

	req := httptest.NewRequest(http.MethodDelete, "/?interaction=get-signer-address", nil)
	rec := httptest.NewRecorder()
	server.handleInteraction(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
