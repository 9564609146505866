package largecmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/telemetry"
)

// DefaultURLMetaKey 是调用元数据中预签名上传地址的键
const DefaultURLMetaKey = "largeCommandUrl"

// PresignedUploader 把载荷 PUT 到平台在调用元数据中下发的预签名地址。
type PresignedUploader struct {
	httpClient *http.Client
	metaKey    string
}

// NewPresignedUploader 创建上传器，timeout 为 0 时默认 60 秒。
func NewPresignedUploader(metaKey string, timeout time.Duration) *PresignedUploader {
	if metaKey == "" {
		metaKey = DefaultURLMetaKey
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PresignedUploader{
		httpClient: telemetry.InstrumentedHTTPClient(timeout),
		metaKey:    metaKey,
	}
}

// Upload 上传载荷，平台已经知道该地址，因此不追加 meta。
func (u *PresignedUploader) Upload(ctx context.Context, ev *domain.ProcessEvent, payload []byte) (map[string]any, error) {
	url, _ := ev.Meta[u.metaKey].(string)
	if url == "" {
		return nil, fmt.Errorf("%w: meta.%s is empty", domain.ErrNoUploadURL, u.metaKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(payload))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil, nil
}
