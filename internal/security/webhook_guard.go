// Package security は外部送信先の検証と利用者入力の無害化を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// WebhookGuard は通知Webhookの送信先を内部ネットワークから隔離する。
// 設定値の静的検証と、接続時にDNS解決後のIPを検査するHTTPクライアントの両方を提供する。
type WebhookGuard struct {
	blocked []*net.IPNet
}

// NewWebhookGuard はWebhookGuardを生成する。
func NewWebhookGuard() *WebhookGuard {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // クラウドメタデータ (169.254.169.254) を含む
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	g := &WebhookGuard{}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR: %s: %v", cidr, err))
		}
		g.blocked = append(g.blocked, network)
	}
	return g
}

// NewSafeClient は送信先IPを接続時に検証するHTTPクライアントを生成する。
// プライベート・ループバック・リンクローカル宛ての接続はダイヤル段階で拒否される。
func (g *WebhookGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はWebhook URLを起動時に静的検証する。
// DNS解決は行わないため、再バインディングはNewSafeClient側で防ぐ。
func (g *WebhookGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range g.blocked {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
	}

	return nil
}
