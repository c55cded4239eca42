package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/SpaceUY/safe-agentathon/internal/agent"
	"github.com/SpaceUY/safe-agentathon/internal/api"
	"github.com/SpaceUY/safe-agentathon/internal/checks"
	"github.com/SpaceUY/safe-agentathon/internal/config"
	"github.com/SpaceUY/safe-agentathon/internal/interactions"
	"github.com/SpaceUY/safe-agentathon/internal/messaging"
	"github.com/SpaceUY/safe-agentathon/internal/multisig"
	"github.com/SpaceUY/safe-agentathon/internal/observability/alerting"
	"github.com/SpaceUY/safe-agentathon/internal/signer"
	"github.com/SpaceUY/safe-agentathon/internal/storage/mysql"
	"github.com/SpaceUY/safe-agentathon/pkg/logger"
)

// main 是多签守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("safeagentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SAFEAGENT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agent.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	signerKey := cfg.SignerKey()
	if signerKey == "" {
		return fmt.Errorf("环境变量 %s 未提供签名私钥", cfg.SignerKeyEnv)
	}
	localSigner, err := signer.NewLocalSigner(signerKey)
	if err != nil {
		return err
	}

	client, err := multisig.NewServiceClient()
	if err != nil {
		return err
	}

	// 操作历史仓库。
	var history mysql.Repository
	switch cfg.History.Driver {
	case "memory":
		repo, err := mysql.NewMemoryRepository("data")
		if err != nil {
			return err
		}
		history = repo
	case "mysql":
		repo, err := mysql.NewSQLRepository(cfg.History.DSN)
		if err != nil {
			return err
		}
		defer repo.Close()
		history = repo
	default:
		return fmt.Errorf("未知的历史存储驱动: %s", cfg.History.Driver)
	}

	// 评估结果缓存。
	var evals agent.EvaluationStore
	switch cfg.EvalCache.Driver {
	case "memory":
		evals = agent.NewMemoryEvaluationStore(
			cfg.EvalCache.MaxEntries,
			time.Duration(cfg.EvalCache.TTLMinutes)*time.Minute)
	case "redis":
		store, err := agent.NewRedisEvaluationStore(agent.RedisEvaluationStoreConfig{
			Address:  cfg.EvalCache.Redis.Address,
			Password: cfg.EvalCache.Redis.Password,
			DB:       cfg.EvalCache.Redis.DB,
			TTL:      time.Duration(cfg.EvalCache.TTLMinutes) * time.Minute,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		evals = store
	default:
		return fmt.Errorf("未知的评估缓存驱动: %s", cfg.EvalCache.Driver)
	}

	opts := []agent.Option{
		agent.WithRecorder(&mysql.Recorder{Repo: history}),
	}

	// 二次确认通知邮件。
	var mailer *messaging.Client
	if apiKey := os.Getenv(cfg.Messaging.APIKeyEnv); apiKey != "" && cfg.Notification.Type == "email" {
		mailer, err = messaging.NewClient(messaging.Config{
			APIKey:     apiKey,
			BaseURL:    cfg.Messaging.BaseURL,
			SenderMail: cfg.Messaging.SenderEmail,
			SenderName: cfg.Messaging.SenderName + " " + cfg.AgentID,
			To:         []string{cfg.Notification.Value},
		})
		if err != nil {
			return err
		}
		opts = append(opts, agent.WithNotifier(mailer))
	}

	// 告警渠道。
	var notifiers []alerting.Notifier
	if cfg.Alerting.Email.Enabled && mailer != nil {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender:        mailer,
			To:            cfg.Alerting.Email.To,
			SubjectPrefix: cfg.AgentID + " ",
		})
	}
	if cfg.Alerting.AMQP.Enabled {
		publisher, err := alerting.NewAMQPPublisher(alerting.AMQPPublisherConfig{
			URL:        cfg.Alerting.AMQP.URL,
			Exchange:   cfg.Alerting.AMQP.Exchange,
			RoutingKey: cfg.Alerting.AMQP.RoutingKey,
		})
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifiers = append(notifiers, &alerting.AMQPNotifier{Publisher: publisher})
	}
	if len(notifiers) > 0 {
		opts = append(opts, agent.WithAlertDispatcher(alerting.NewFanout(notifiers...)))
	}

	engine, err := agent.New(cfg, client, localSigner, checks.Registry(), evals, opts...)
	if err != nil {
		return err
	}

	if cfg.ProposalListener {
		go engine.Run(ctx)
	} else {
		logger.L().Info("提案自主轮询未启用，仅提供交互接口")
	}

	registry := interactions.NewRegistry(cfg, engine, cfg.TOTPSecret(), history)
	server := api.NewServer(cfg.Server.Address, registry)
	logger.L().Info("API 服务启动", "address", cfg.Server.Address)
	return server.Start(ctx)
}
