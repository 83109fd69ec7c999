// Package builtin 提供内置的 Tool 实现
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSendParams Telegram 消息工具的参数
type TelegramSendParams struct {
	ChatID  int64  `json:"chat_id" desc:"目标会话 ID" required:"true"`
	Message string `json:"message" desc:"消息内容，支持 Markdown" required:"true"`
}

// TelegramSendTool Telegram 消息通知工具
// 工作流可以用它把执行结果推送给运营者
type TelegramSendTool struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewTelegramSendTool 创建 TelegramSendTool
// token 无效时返回错误，工具不会被注册
func NewTelegramSendTool(token string, logger *slog.Logger) (*TelegramSendTool, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramSendTool{bot: bot, logger: logger}, nil
}

func (t *TelegramSendTool) Name() string {
	return "send_telegram"
}

func (t *TelegramSendTool) Description() string {
	return "向指定的 Telegram 会话发送消息通知。适用于推送工作流产出（如生成的摘要、告警）。"
}

func (t *TelegramSendTool) ParamsType() reflect.Type {
	return reflect.TypeOf(TelegramSendParams{})
}

func (t *TelegramSendTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var chatID int64
	switch v := params["chat_id"].(type) {
	case float64:
		chatID = int64(v)
	case int64:
		chatID = v
	case int:
		chatID = int64(v)
	default:
		return "", fmt.Errorf("chat_id must be a number")
	}

	message, _ := params["message"].(string)
	if message == "" {
		return "", fmt.Errorf("message is required")
	}

	msg := tgbotapi.NewMessage(chatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdown

	sent, err := t.bot.Send(msg)
	if err != nil {
		// Markdown 解析失败时回退为纯文本重发
		t.logger.Warn("failed to send markdown message, retrying as plain text",
			"chat_id", chatID,
			"error", err,
		)
		msg.ParseMode = ""
		sent, err = t.bot.Send(msg)
		if err != nil {
			return "", fmt.Errorf("failed to send message: %w", err)
		}
	}

	t.logger.Debug("telegram message sent",
		"chat_id", chatID,
		"message_id", sent.MessageID,
	)

	return fmt.Sprintf("message %d delivered to chat %d", sent.MessageID, chatID), nil
}
