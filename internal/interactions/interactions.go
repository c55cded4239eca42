// Package interactions 收录对外暴露的交互指令。
// 每个指令都有固定名称，只有配置里启用的指令才会被注册。
package interactions

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/SpaceUY/safe-agentathon/internal/agent"
	"github.com/SpaceUY/safe-agentathon/internal/config"
	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
	"github.com/SpaceUY/safe-agentathon/internal/storage/mysql"
)

// 内置交互指令的名称。
const (
	NameGetSignerAddress   = "get-signer-address"
	NamePushTwoFactor      = "push-two-factor"
	NameGetOperationStatus = "get-operation-status"
	NameGetOperationDetail = "get-operation-details"
)

// Agent 定义交互指令需要的引擎能力。
type Agent interface {
	State() agent.State
	SignerAddress() common.Address
	WaitingOperation() (string, bool)
	ExecutionOperation() (string, bool)
	ConfirmTwoFA() bool
}

// Handler 处理一次交互调用。params 来自请求体，可能为 nil。
type Handler interface {
	Handle(ctx context.Context, params map[string]any) (any, error)
}

// HandlerFunc 将普通函数适配为 Handler。
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Handle 实现 Handler。
func (f HandlerFunc) Handle(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Registry 按名称保存已启用的交互指令。
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry 根据配置组装交互注册表。
// 未在配置里启用的指令即便实现存在也不会注册。
func NewRegistry(cfg *config.Config, eng Agent, totpSecret string, history mysql.Repository) *Registry {
	available := map[string]Handler{
		NameGetSignerAddress:   signerAddressHandler(eng),
		NamePushTwoFactor:      pushTwoFactorHandler(eng, totpSecret),
		NameGetOperationStatus: operationStatusHandler(eng),
		NameGetOperationDetail: operationDetailsHandler(history),
	}
	handlers := make(map[string]Handler)
	for name, handler := range available {
		if cfg.InteractionEnabled(name) {
			handlers[name] = handler
		}
	}
	return &Registry{handlers: handlers}
}

// Resolve 按名称查找指令。未注册时返回不可用错误。
func (r *Registry) Resolve(name string) (Handler, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotAvailable, "Interaction not found or not configured")
	}
	return handler, nil
}

// Names 返回全部已注册指令的名称，测试用。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// signerAddressHandler 返回智能体的签名地址。
func signerAddressHandler(eng Agent) Handler {
	return HandlerFunc(func(_ context.Context, _ map[string]any) (any, error) {
		return map[string]string{"address": eng.SignerAddress().Hex()}, nil
	})
}

// operationStatusHandler 返回状态机当前状态与在途操作。
func operationStatusHandler(eng Agent) Handler {
	return HandlerFunc(func(_ context.Context, _ map[string]any) (any, error) {
		status := map[string]any{"state": eng.State().String()}
		if op, ok := eng.WaitingOperation(); ok {
			status["waiting_operation"] = op
		}
		if op, ok := eng.ExecutionOperation(); ok {
			status["executing_operation"] = op
		}
		return status, nil
	})
}

// operationDetailsHandler 返回操作历史记录。
// 传入 operation 参数时只返回该操作的记录。
func operationDetailsHandler(history mysql.Repository) Handler {
	return HandlerFunc(func(ctx context.Context, params map[string]any) (any, error) {
		if history == nil {
			return nil, xerrors.New(xerrors.CodeNotAvailable, "Interaction not found or not configured")
		}
		limit := 20
		if raw, ok := params["limit"].(float64); ok && raw > 0 {
			limit = int(raw)
		}
		if operation, ok := params["operation"].(string); ok && operation != "" {
			records, err := history.ListByOperation(ctx, operation, limit)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作历史失败")
			}
			return records, nil
		}
		records, err := history.ListLatest(ctx, limit)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作历史失败")
		}
		return records, nil
	})
}
