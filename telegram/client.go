package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxMediaGroup is the Bot API limit on items in one media group.
const MaxMediaGroup = 10

// NotificationError is a failed delivery to one chat.
type NotificationError struct {
	Method string
	ChatID int64
	Err    error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("telegram %s to chat %d: %v", e.Method, e.ChatID, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// Client talks to the Telegram Bot API. All messages use HTML parse mode.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", chatID, map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error {
	return c.call(ctx, "sendPhoto", chatID, map[string]any{
		"chat_id":    chatID,
		"photo":      photoURL,
		"caption":    caption,
		"parse_mode": "HTML",
	})
}

// SendMediaGroup sends up to MaxMediaGroup photos; the caption goes on the first.
func (c *Client) SendMediaGroup(ctx context.Context, chatID int64, photoURLs []string, caption string) error {
	if len(photoURLs) > MaxMediaGroup {
		photoURLs = photoURLs[:MaxMediaGroup]
	}

	media := make([]inputMediaPhoto, 0, len(photoURLs))
	for i, u := range photoURLs {
		item := inputMediaPhoto{Type: "photo", Media: u, ParseMode: "HTML"}
		if i == 0 {
			item.Caption = caption
		}
		media = append(media, item)
	}

	return c.call(ctx, "sendMediaGroup", chatID, map[string]any{
		"chat_id": chatID,
		"media":   media,
	})
}

func (c *Client) call(ctx context.Context, method string, chatID int64, payload any) error {
	fail := func(err error) error {
		return &NotificationError{Method: method, ChatID: chatID, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fail(err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fail(scrubToken(err, c.token))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var result apiResponse
	if jsonErr := json.Unmarshal(respBody, &result); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return fail(fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
		}
		return fail(fmt.Errorf("decode response: %w", jsonErr))
	}
	if !result.OK || resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("status %d: %s", resp.StatusCode, result.Description))
	}

	return nil
}

// scrubToken keeps the bot token out of transport errors, which embed the URL.
func scrubToken(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}

type inputMediaPhoto struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}
