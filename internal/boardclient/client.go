package boardclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sandergv/tchub/internal/coremodel"
)

// Client 从板卡自带的取值端点拉取当前读数。
// 板卡响应格式为 "<sensor>:<value>" 纯文本。
type Client struct {
	http *http.Client
}

// New 创建拉取客户端。client 为 nil 时使用 5s 超时的默认客户端。
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{http: client}
}

// Fetch 向 http://<addr>/data?sensor=<id> 请求当前取值
func (c *Client) Fetch(ctx context.Context, addr string, sensor coremodel.SensorID) (float64, error) {
	endpoint := fmt.Sprintf("http://%s/data?sensor=%s", addr, sensor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", coremodel.ErrTransport, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch %s: %v", coremodel.ErrTransport, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: fetch %s: status %d", coremodel.ErrTransport, endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", coremodel.ErrTransport, err)
	}
	return parseValue(string(body))
}

// parseValue 解析 "<sensor>:<value>" 响应体
func parseValue(body string) (float64, error) {
	body = strings.TrimSpace(body)
	parts := strings.Split(body, ":")
	raw := parts[len(parts)-1]
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad value payload %q", coremodel.ErrTransport, body)
	}
	return v, nil
}
