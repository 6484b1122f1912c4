package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

// LarkNotifier 飞书机器人通知器. Only important events (goals, red cards,
// kick off and full time) are posted to the club channel.
type LarkNotifier struct {
	webhookURL string
	client     *http.Client
	logger     common.Logger
}

// NewLarkNotifier 创建飞书通知器
func NewLarkNotifier(webhookURL string, logger common.Logger) *LarkNotifier {
	return &LarkNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// LarkMessage 飞书消息结构
type LarkMessage struct {
	MsgType string      `json:"msg_type"`
	Content interface{} `json:"content"`
}

// LarkPostContent 富文本消息内容
type LarkPostContent struct {
	Post LarkPost `json:"post"`
}

type LarkPost struct {
	ZhCn LarkPostLang `json:"zh_cn"`
}

type LarkPostLang struct {
	Title   string          `json:"title"`
	Content [][]LarkElement `json:"content"`
}

type LarkElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text,omitempty"`
	Href string `json:"href,omitempty"`
}

type larkResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (n *LarkNotifier) Name() string { return "lark" }

func (n *LarkNotifier) Notify(ctx context.Context, notification *models.Notification) error {
	if !notification.Important {
		return nil
	}

	content := [][]LarkElement{
		{{Tag: "text", Text: notification.Body + "\n"}},
		{{Tag: "text", Text: fmt.Sprintf("类型: %s\n", notification.Kind)}},
		{{Tag: "text", Text: fmt.Sprintf("时间: %s", time.Now().Format("2006-01-02 15:04:05"))}},
	}

	return n.send(ctx, LarkMessage{
		MsgType: "post",
		Content: LarkPostContent{
			Post: LarkPost{
				ZhCn: LarkPostLang{
					Title:   notification.Title,
					Content: content,
				},
			},
		},
	})
}

// send 发送消息
func (n *LarkNotifier) send(ctx context.Context, message LarkMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body larkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Code != 0 {
		return fmt.Errorf("lark rejected message: %d %s", body.Code, body.Msg)
	}

	n.logger.Debug("Lark message sent: %s", larkTitle(message))
	return nil
}

func larkTitle(message LarkMessage) string {
	if post, ok := message.Content.(LarkPostContent); ok {
		return post.Post.ZhCn.Title
	}
	return message.MsgType
}
