package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
)

// Wallet 描述一条链上的一个多签钱包部署。
// ChainID 是十进制链 ID，Network 是交易服务使用的网络名。
type Wallet struct {
	ChainID    string `yaml:"chain_id"`
	Network    string `yaml:"network"`
	Address    string `yaml:"address"`
	RPCURL     string `yaml:"rpc_url"`
	ServiceURL string `yaml:"service_url"`
}

// OperationPolicy 描述针对单个多签操作的执行策略。
// 操作名为被提案交易解码出的合约方法名，原生转账使用保留名 [NATIVE_TRANSFER]。
type OperationPolicy struct {
	Name            string   `yaml:"name"`
	Checks          []string `yaml:"checks"`
	ChainIDs        []string `yaml:"chain_ids"`
	TwoFARequired   bool     `yaml:"two_fa_required"`
	HoldToCheck     bool     `yaml:"hold_to_check"`
	HoldToReplicate bool     `yaml:"hold_to_replicate"`
}

// ChainIDSet 返回策略覆盖的链 ID 集合。
func (p OperationPolicy) ChainIDSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.ChainIDs))
	for _, id := range p.ChainIDs {
		set[id] = struct{}{}
	}
	return set
}

// NotificationTarget 描述二次确认通知的接收方。
type NotificationTarget struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// MessagingConfig 描述发送通知邮件所需的信息。
type MessagingConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	SenderEmail string `yaml:"sender_email"`
	SenderName  string `yaml:"sender_name"`
}

// HistoryConfig 控制操作历史的落库方式。
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// EvalCacheConfig 控制提案评估结果缓存的后端。
type EvalCacheConfig struct {
	Driver     string `yaml:"driver"`
	MaxEntries int    `yaml:"max_entries"`
	TTLMinutes int    `yaml:"ttl_minutes"`
	Redis      struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// AlertingConfig 描述引擎事件的告警渠道。
type AlertingConfig struct {
	Email struct {
		Enabled bool     `yaml:"enabled"`
		To      []string `yaml:"to"`
	} `yaml:"email"`
	AMQP struct {
		Enabled    bool   `yaml:"enabled"`
		URL        string `yaml:"url"`
		Exchange   string `yaml:"exchange"`
		RoutingKey string `yaml:"routing_key"`
	} `yaml:"amqp"`
}

// LogConfig 控制日志输出。
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
	AuditPath   string   `yaml:"audit_path"`
}

// Config 描述智能体启动阶段需要加载的全部配置。
type Config struct {
	AgentID string `yaml:"agent_id"`

	// IsExecutor 为 true 时智能体既做链下确认也负责链上执行广播；
	// 为 false 时仅做链下确认。
	IsExecutor bool `yaml:"is_executor"`

	// ProposalListener 为 true 时智能体自主轮询提案；
	// 为 false 时只提供交互接口（受监督模式）。
	ProposalListener bool `yaml:"proposal_listener"`

	// TickIntervalSeconds 为提案轮询的周期。
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`

	// TOTPSecretEnv 指向存放 TOTP 共享密钥（base32）的环境变量。
	TOTPSecretEnv string `yaml:"totp_secret_env"`

	// SignerKeyEnv 指向存放签名私钥（hex）的环境变量。
	SignerKeyEnv string `yaml:"signer_key_env"`

	Notification NotificationTarget `yaml:"notification"`
	Server       ServerConfig       `yaml:"server"`
	Messaging    MessagingConfig    `yaml:"messaging"`
	History      HistoryConfig      `yaml:"history"`
	EvalCache    EvalCacheConfig    `yaml:"eval_cache"`
	Alerting     AlertingConfig     `yaml:"alerting"`
	Log          LogConfig          `yaml:"log"`

	Wallets []Wallet `yaml:"wallets"`

	// Operations 按配置顺序列出智能体可以推进的操作。
	// 顺序有意义：同票数的候选操作按此顺序决胜。
	Operations []OperationPolicy `yaml:"operations"`

	// Interactions 是对外开放的交互 key 白名单。
	Interactions []string `yaml:"interactions"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "读取配置文件失败")
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析配置失败")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.AgentID == "" {
		c.AgentID = "AGENT"
	}
	if c.TickIntervalSeconds <= 0 {
		c.TickIntervalSeconds = 10
	}
	if c.TOTPSecretEnv == "" {
		c.TOTPSecretEnv = "AGENT_TOTP_SECRET"
	}
	if c.SignerKeyEnv == "" {
		c.SignerKeyEnv = "AGENT_PRIVATEKEY"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":3000"
	}
	if c.Messaging.BaseURL == "" {
		c.Messaging.BaseURL = "https://api.brevo.com"
	}
	if c.Messaging.APIKeyEnv == "" {
		c.Messaging.APIKeyEnv = "BREVO_API_KEY"
	}
	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}
	if c.EvalCache.Driver == "" {
		c.EvalCache.Driver = "memory"
	}
	if c.EvalCache.MaxEntries <= 0 {
		c.EvalCache.MaxEntries = 1024
	}
	if c.EvalCache.TTLMinutes <= 0 {
		c.EvalCache.TTLMinutes = 24 * 60
	}
	if c.Alerting.AMQP.Exchange == "" {
		c.Alerting.AMQP.Exchange = "safeagent.events"
	}
	for i := range c.Wallets {
		if c.Wallets[i].ServiceURL == "" && c.Wallets[i].Network != "" {
			c.Wallets[i].ServiceURL = fmt.Sprintf("https://safe-transaction-%s.safe.global", c.Wallets[i].Network)
		}
	}
}

// Validate 校验配置的完整性。
func (c *Config) Validate() error {
	if len(c.Wallets) == 0 {
		return xerrors.New(xerrors.CodeConfigInvalid, "至少需要配置一个多签钱包")
	}
	for i, w := range c.Wallets {
		if w.ChainID == "" || w.Address == "" || w.RPCURL == "" {
			return xerrors.New(xerrors.CodeConfigInvalid,
				fmt.Sprintf("钱包 #%d 缺少 chain_id/address/rpc_url", i))
		}
		if w.ServiceURL == "" && w.Network == "" {
			return xerrors.New(xerrors.CodeConfigInvalid,
				fmt.Sprintf("钱包 #%d 需要配置 network 或 service_url", i))
		}
	}
	if len(c.Operations) == 0 {
		return xerrors.New(xerrors.CodeConfigInvalid, "至少需要配置一个可操作的交易类型")
	}
	seen := make(map[string]struct{}, len(c.Operations))
	for i, op := range c.Operations {
		if op.Name == "" {
			return xerrors.New(xerrors.CodeConfigInvalid,
				fmt.Sprintf("操作 #%d 缺少 name", i))
		}
		if _, dup := seen[op.Name]; dup {
			return xerrors.New(xerrors.CodeConfigInvalid,
				fmt.Sprintf("操作 %s 重复配置", op.Name))
		}
		seen[op.Name] = struct{}{}
		if len(op.ChainIDs) == 0 {
			return xerrors.New(xerrors.CodeConfigInvalid,
				fmt.Sprintf("操作 %s 缺少 chain_ids", op.Name))
		}
	}
	return nil
}

// TickInterval 返回轮询周期。
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// Policy 按操作名返回策略。
func (c *Config) Policy(name string) (OperationPolicy, bool) {
	for _, op := range c.Operations {
		if op.Name == name {
			return op, true
		}
	}
	return OperationPolicy{}, false
}

// OperationNames 按配置顺序返回全部操作名。
func (c *Config) OperationNames() []string {
	names := make([]string, 0, len(c.Operations))
	for _, op := range c.Operations {
		names = append(names, op.Name)
	}
	return names
}

// InteractionEnabled 判断交互 key 是否在白名单中。
func (c *Config) InteractionEnabled(key string) bool {
	for _, k := range c.Interactions {
		if k == key {
			return true
		}
	}
	return false
}

// TOTPSecret 从环境变量读取 TOTP 共享密钥。
func (c *Config) TOTPSecret() string {
	return strings.TrimSpace(os.Getenv(c.TOTPSecretEnv))
}

// SignerKey 从环境变量读取签名私钥。
func (c *Config) SignerKey() string {
	return strings.TrimSpace(os.Getenv(c.SignerKeyEnv))
}
