package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/telemetry"
)

// HTTPSender 把信封以 JSON POST 到平台回调地址。
type HTTPSender struct {
	url        string
	httpClient *http.Client
	headers    http.Header
}

// NewHTTPSender 创建 HTTP 发送器，timeout 为 0 时默认 30 秒。
// 出站请求携带 traceparent 头，接收端可以续接链路。
func NewHTTPSender(url string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		url:        url,
		httpClient: telemetry.InstrumentedHTTPClient(timeout),
		headers:    http.Header{},
	}
}

// WithHeader 为每个请求附加请求头，返回发送器本身。
func (s *HTTPSender) WithHeader(key, value string) *HTTPSender {
	s.headers.Set(key, value)
	return s
}

// Name 返回发送器名称。
func (s *HTTPSender) Name() string {
	return NameHTTP
}

// apiError 是接收端返回的标准错误结构。
type apiError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Send 发送信封，4xx/5xx 转换为错误。
func (s *HTTPSender) Send(ctx context.Context, ev *domain.ProcessEvent, _ domain.SendOptions) error {
	return traced(ctx, NameHTTP, ev, func(ctx context.Context) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		for k, v := range s.headers {
			req.Header[k] = v
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		telemetry.SetEventHeaders(req.Header, ev)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 400 {
			io.Copy(io.Discard, resp.Body)
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	})
}
