package worker

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/runtime-land/land/internal/models"
)

const ipinfoURL = "https://ipinfo.io/json"

// DiscoverIPInfo collects the worker's identity: preferably from ipinfo.io,
// falling back to the first non-loopback interface address when the lookup
// is unavailable. The ip is the worker's registry key, so discovery must
// produce one or the agent refuses to start.
func DiscoverIPInfo(ctx context.Context) (*models.IPInfo, error) {
	if info, err := fetchIPInfo(ctx); err == nil && info.IP != "" {
		if info.Hostname == "" {
			info.Hostname, _ = os.Hostname()
		}
		return info, nil
	}

	ip, err := localIP()
	if err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	return &models.IPInfo{IP: ip, Hostname: hostname}, nil
}

func fetchIPInfo(ctx context.Context) (*models.IPInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ipinfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info models.IPInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

func localIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String(), nil
}
