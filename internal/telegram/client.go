package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient определяет интерфейс для работы с Telegram Bot API.
type TelegramClient interface {
	SendMessage(ctx context.Context, chatID string, text string, parseMode string) error
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
}

// Client инкапсулирует работу с Telegram Bot API.
type Client struct {
	client *http.Client
	apiURL string
}

var _ TelegramClient = (*Client)(nil)

// NewClient создаёт клиента. token обязателен, httpClient может быть nil.
func NewClient(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		client: httpClient,
		apiURL: fmt.Sprintf("%s/bot%s", defaultAPIBase, token),
	}
}

// SendMessage отправляет текстовое сообщение.
func (c *Client) SendMessage(ctx context.Context, chatID string, text string, parseMode string) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}

	var resp apiResponse[json.RawMessage]
	return c.post(ctx, "sendMessage", payload, &resp)
}

// GetUpdates получает входящие обновления, начиная с offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	if offset > 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}
	if timeout <= 0 {
		timeout = 5
	}
	params.Set("timeout", strconv.Itoa(timeout))

	var resp apiResponse[[]Update]
	if err := c.get(ctx, "getUpdates", params, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) post(ctx context.Context, method string, body any, out apiResult) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out apiResult) error {
	u := c.apiURL + "/" + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, method, out)
}

// do выполняет запрос. Описание ошибки из ответа Bot API попадает в текст ошибки,
// по нему sender решает, стоит ли повторять.
func (c *Client) do(req *http.Request, method string, out apiResult) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if resp.StatusCode >= 400 || !out.ok() {
		return fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode, out.description())
	}
	if decodeErr != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, decodeErr)
	}
	return nil
}
