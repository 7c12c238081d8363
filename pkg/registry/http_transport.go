package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hewenyu/kong-auth-connector/pkg/autherr"
)

// 响应体读取上限，仅用于日志和错误信息
const maxErrorBody = 4 << 10

// HTTPTransport 基于HTTP的注册中心客户端
type HTTPTransport struct {
	registryURL      string
	httpClient       *http.Client
	registerTimeout  time.Duration
	heartbeatTimeout time.Duration
}

// HTTPOption HTTPTransport可选项
type HTTPOption func(*HTTPTransport)

// WithHTTPClient 使用自定义的http.Client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.httpClient = c
	}
}

// WithTimeouts 覆盖注册/注销与心跳的超时时间
func WithTimeouts(register, heartbeat time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if register > 0 {
			t.registerTimeout = register
		}
		if heartbeat > 0 {
			t.heartbeatTimeout = heartbeat
		}
	}
}

// NewHTTPTransport 创建HTTP注册中心客户端
func NewHTTPTransport(registryURL string, opts ...HTTPOption) (*HTTPTransport, error) {
	if registryURL == "" {
		return nil, autherr.NewConfigurationError("注册中心地址不能为空")
	}
	if _, err := url.Parse(registryURL); err != nil {
		return nil, autherr.NewConfigurationError(fmt.Sprintf("注册中心地址无效: %v", err))
	}

	t := &HTTPTransport{
		registryURL:      strings.TrimRight(registryURL, "/"),
		httpClient:       &http.Client{},
		registerTimeout:  DefaultRegisterTimeout,
		heartbeatTimeout: DefaultHeartbeatTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Register 注册服务实例
func (t *HTTPTransport) Register(ctx context.Context, instance *ServiceInstance) error {
	ctx, cancel := context.WithTimeout(ctx, t.registerTimeout)
	defer cancel()

	status, body, err := t.doRequest(ctx, http.MethodPost, t.registryURL+"/register", instance.payload())
	if err != nil {
		return autherr.NewTransportError("发送注册请求失败", err)
	}
	if status != http.StatusOK {
		return autherr.NewTransportError(fmt.Sprintf("服务注册失败，状态码: %d, 响应: %s", status, body), nil)
	}
	return nil
}

// Heartbeat 发送心跳
func (t *HTTPTransport) Heartbeat(ctx context.Context, serviceKey, containerName string) HeartbeatOutcome {
	ctx, cancel := context.WithTimeout(ctx, t.heartbeatTimeout)
	defer cancel()

	req := struct {
		ServiceKey    string `json:"service_key"`
		ContainerName string `json:"container_name"`
	}{serviceKey, containerName}

	status, body, err := t.doRequest(ctx, http.MethodPost, t.registryURL+"/heartbeat", req)
	if err != nil {
		return Failed("发送心跳请求失败", err)
	}

	switch status {
	case http.StatusOK:
		return OK()
	case http.StatusNotFound:
		return NotFound()
	default:
		return Failed(fmt.Sprintf("心跳失败，状态码: %d, 响应: %s", status, body), nil)
	}
}

// Deregister 注销服务实例
func (t *HTTPTransport) Deregister(ctx context.Context, serviceKey, containerName string) error {
	ctx, cancel := context.WithTimeout(ctx, t.registerTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/unregister/%s?%s",
		t.registryURL,
		url.PathEscape(serviceKey),
		url.Values{"container_name": []string{containerName}}.Encode(),
	)

	status, body, err := t.doRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return autherr.NewTransportError("发送注销请求失败", err)
	}
	if status != http.StatusOK {
		return autherr.NewTransportError(fmt.Sprintf("服务注销失败，状态码: %d, 响应: %s", status, body), nil)
	}
	return nil
}

// doRequest 发送HTTP请求，返回状态码和截断后的响应体
func (t *HTTPTransport) doRequest(ctx context.Context, method, endpoint string, body interface{}) (int, string, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return 0, "", fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return 0, "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, string(respBody), nil
}
