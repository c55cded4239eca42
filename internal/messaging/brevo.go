// Package messaging 封装对外的邮件通知能力。
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.brevo.com"
	defaultTimeout = 30 * time.Second

	twoFASubject = "🚀 SafeRocket | 2FA Code Request Pending"
)

// Config 描述调用 Brevo 邮件 API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	SenderMail string
	SenderName string
	To         []string
	Timeout    time.Duration
}

// Client 通过 Brevo 发送事务邮件。
type Client struct {
	apiKey     string
	baseURL    string
	senderMail string
	senderName string
	to         []string
	httpClient *http.Client
}

// NewClient 根据配置创建 Brevo 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Brevo API Key")
	}
	if cfg.SenderMail == "" {
		return nil, errors.New("未配置发件人地址")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("未配置收件人")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		senderMail: cfg.SenderMail,
		senderName: cfg.SenderName,
		to:         cfg.To,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type emailRecipient struct {
	Email string `json:"email"`
}

type emailPayload struct {
	Sender struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"sender"`
	To          []emailRecipient `json:"to"`
	Subject     string           `json:"subject"`
	HTMLContent string           `json:"htmlContent"`
}

// Send 发送一封邮件给配置的收件人。实现 alerting.EmailSender。
func (c *Client) Send(ctx context.Context, subject, content string, to []string) error {
	if len(to) == 0 {
		to = c.to
	}
	body := "<html><body><pre>" + content + "</pre></body></html>"
	return c.send(ctx, subject, body, to)
}

// NotifyTwoFARequest 通知审核方有提案在等待二次确认。
func (c *Client) NotifyTwoFARequest(ctx context.Context, operation, proposalKey string) error {
	body := fmt.Sprintf(`<html><body>
<h2>A multisig operation is waiting for your confirmation.</h2>
<p>Operation: <b>%s</b></p>
<p>Proposals: <code>%s</code></p>
<p>Submit your authenticator code to the agent within 5 minutes to approve it.</p>
</body></html>`, operation, proposalKey)
	return c.send(ctx, twoFASubject, body, c.to)
}

func (c *Client) send(ctx context.Context, subject, htmlContent string, to []string) error {
	var payload emailPayload
	payload.Sender.Name = c.senderName
	payload.Sender.Email = c.senderMail
	payload.Subject = subject
	payload.HTMLContent = htmlContent
	for _, addr := range to {
		payload.To = append(payload.To, emailRecipient{Email: addr})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化邮件内容失败: %w", err)
	}

	endpoint := c.baseURL + "/v3/smtp/email"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("构建 Brevo 请求失败: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求 Brevo 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("Brevo 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
