package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"olx_monitor/config"
)

type Clients struct {
	Search   *http.Client // optionally proxied, for the OLX API
	Telegram *http.Client // direct, for the Bot API
}

func NewClients(proxyCfg config.ProxyConfig, searchTimeout time.Duration) *Clients {
	if searchTimeout <= 0 {
		searchTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	if proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Search: &http.Client{
			Timeout:   searchTimeout,
			Transport: transport,
		},
		Telegram: &http.Client{Timeout: 30 * time.Second},
	}
}
