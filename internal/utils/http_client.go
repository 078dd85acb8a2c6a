package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient 服务端调用模型和 chatctl 调用后端共用的 HTTP 客户端，timeout 限制整个请求
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// NewStreamingHTTPClient 用于 SSE 长连接：只限制等待响应头的时间，读取响应体不设上限
func NewStreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := newTransport()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}
