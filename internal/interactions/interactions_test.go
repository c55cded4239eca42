package interactions

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/SpaceUY/safe-agentathon/internal/agent"
	"github.com/SpaceUY/safe-agentathon/internal/config"
	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
	"github.com/SpaceUY/safe-agentathon/internal/storage/mysql"
)

// fakeAgent 模拟引擎的交互入口。
type fakeAgent struct {
	state     agent.State
	waitingOp string
	confirmed bool
}

func (f *fakeAgent) State() agent.State { return f.state }

func (f *fakeAgent) SignerAddress() common.Address {
	return common.HexToAddress("0x42")
}

func (f *fakeAgent) WaitingOperation() (string, bool) {
	return f.waitingOp, f.waitingOp != ""
}

func (f *fakeAgent) ExecutionOperation() (string, bool) { return "", false }

func (f *fakeAgent) ConfirmTwoFA() bool {
	if f.waitingOp == "" {
		return false
	}
	f.confirmed = true
	return true
}

const testSecret = "JBSWY3DPEHPK3PXP"

func testRegistry(t *testing.T, eng Agent, enabled ...string) *Registry {
	t.Helper()
	cfg := &config.Config{Interactions: enabled}
	repo, err := mysql.NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("memory repository: %v", err)
	}
	return NewRegistry(cfg, eng, testSecret, repo)
}

func validCode(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(testSecret, totpNow(), totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func TestResolveUnknownInteraction(t *testing.T) {
	registry := testRegistry(t, &fakeAgent{}, NameGetSignerAddress)
	if _, err := registry.Resolve("no-such-interaction"); xerrors.CodeOf(err) != xerrors.CodeNotAvailable {
		t.Fatalf("expected not-available error, got %v", err)
	}
	// 实现存在但配置未启用，同样不可见。
	if _, err := registry.Resolve(NamePushTwoFactor); xerrors.CodeOf(err) != xerrors.CodeNotAvailable {
		t.Fatalf("disabled interaction must be hidden, got %v", err)
	}
}

func TestSignerAddressInteraction(t *testing.T) {
	registry := testRegistry(t, &fakeAgent{}, NameGetSignerAddress)
	handler, err := registry.Resolve(NameGetSignerAddress)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	result, err := handler.Handle(context.Background(), nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	address := result.(map[string]string)["address"]
	if address != common.HexToAddress("0x42").Hex() {
		t.Fatalf("unexpected address %q", address)
	}
}

func TestPushTwoFactorValidCode(t *testing.T) {
	eng := &fakeAgent{waitingOp: "upgradeTo"}
	registry := testRegistry(t, eng, NamePushTwoFactor)
	handler, _ := registry.Resolve(NamePushTwoFactor)

	result, err := handler.Handle(context.Background(), map[string]any{"code": validCode(t)})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg := result.(map[string]string)["message"]; msg != "Valid code, operation successful" {
		t.Fatalf("unexpected message %q", msg)
	}
	if !eng.confirmed {
		t.Fatalf("engine should be confirmed")
	}
}

func TestPushTwoFactorInvalidCode(t *testing.T) {
	eng := &fakeAgent{waitingOp: "upgradeTo"}
	registry := testRegistry(t, eng, NamePushTwoFactor)
	handler, _ := registry.Resolve(NamePushTwoFactor)

	result, err := handler.Handle(context.Background(), map[string]any{"code": "000000"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg := result.(map[string]string)["message"]; msg != "Invalid code, operation failed" {
		t.Fatalf("unexpected message %q", msg)
	}
	if eng.confirmed {
		t.Fatalf("invalid code must not confirm")
	}
}

func TestPushTwoFactorNoPendingOperation(t *testing.T) {
	registry := testRegistry(t, &fakeAgent{}, NamePushTwoFactor)
	handler, _ := registry.Resolve(NamePushTwoFactor)

	result, err := handler.Handle(context.Background(), map[string]any{"code": validCode(t)})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg := result.(map[string]string)["message"]; msg != "There is no operation waiting for 2fa" {
		t.Fatalf("unexpected message %q", msg)
	}
}

// TestPushTwoFactorIdleBeforeValidation 验证没有等待中的提案时，
// 即便验证码本身无效，返回的也是无等待提示而不是验证失败。
func TestPushTwoFactorIdleBeforeValidation(t *testing.T) {
	registry := testRegistry(t, &fakeAgent{}, NamePushTwoFactor)
	handler, _ := registry.Resolve(NamePushTwoFactor)

	result, err := handler.Handle(context.Background(), map[string]any{"code": "000000"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg := result.(map[string]string)["message"]; msg != "There is no operation waiting for 2fa" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestPushTwoFactorAdjacentWindow(t *testing.T) {
	eng := &fakeAgent{waitingOp: "upgradeTo"}
	registry := testRegistry(t, eng, NamePushTwoFactor)
	handler, _ := registry.Resolve(NamePushTwoFactor)

	// 上一个时间窗的验证码仍然有效。
	previous, err := totp.GenerateCodeCustom(testSecret, totpNow().Add(-30*time.Second), totp.ValidateOpts{
		Period: 30, Skew: 0, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	result, err := handler.Handle(context.Background(), map[string]any{"code": previous})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg := result.(map[string]string)["message"]; msg != "Valid code, operation successful" {
		t.Fatalf("adjacent window code should pass, got %q", msg)
	}
}

func TestOperationStatusInteraction(t *testing.T) {
	eng := &fakeAgent{state: agent.StateWaitingForTwoFA, waitingOp: "upgradeTo"}
	registry := testRegistry(t, eng, NameGetOperationStatus)
	handler, _ := registry.Resolve(NameGetOperationStatus)

	result, err := handler.Handle(context.Background(), nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	status := result.(map[string]any)
	if status["state"] != "waiting-for-two-fa" {
		t.Fatalf("unexpected state %v", status["state"])
	}
	if status["waiting_operation"] != "upgradeTo" {
		t.Fatalf("unexpected waiting operation %v", status["waiting_operation"])
	}
}

func TestOperationDetailsInteraction(t *testing.T) {
	repo, err := mysql.NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("memory repository: %v", err)
	}
	recorder := &mysql.Recorder{Repo: repo}
	ctx := context.Background()
	_ = recorder.Record(ctx, "upgradeTo", "0xaa", "two-fa-requested", "")
	_ = recorder.Record(ctx, "transfer", "0xbb", "executed", "0xbeef")

	cfg := &config.Config{Interactions: []string{NameGetOperationDetail}}
	registry := NewRegistry(cfg, &fakeAgent{}, testSecret, repo)
	handler, _ := registry.Resolve(NameGetOperationDetail)

	result, err := handler.Handle(ctx, map[string]any{"operation": "upgradeTo"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	records := result.([]mysql.OperationRecord)
	if len(records) != 1 || records[0].Stage != "two-fa-requested" {
		t.Fatalf("unexpected records %+v", records)
	}
}
