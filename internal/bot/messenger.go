package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger: то, чем бот пользуется из телеги. *tgbotapi.BotAPI подходит как есть.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Downloader скачивает файл по прямой ссылке телеги.
type Downloader interface {
	Download(ctx context.Context, url string, limit int64) ([]byte, error)
}

type httpDownloader struct {
	client *http.Client
}

// NewHTTPDownloader: скачивание вложений, через тот же прокси что и апи.
func NewHTTPDownloader(client *http.Client) Downloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &httpDownloader{client: client}
}

func (d *httpDownloader) Download(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	// +1 чтобы отличить "ровно лимит" от "больше лимита"
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errFileOverLimit
	}
	return data, nil
}
