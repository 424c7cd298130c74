package telemetry

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Счётчики клиента. Регистрируются в default registry при загрузке пакета.
var (
	// APIRequests — количество HTTP-запросов к платформе по методам.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asioctl_api_requests_total",
		Help: "Total HTTP requests sent to the Asio platform API",
	}, []string{"method"})

	// RateLimited — количество ответов 429.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asioctl_rate_limited_total",
		Help: "Total HTTP 429 responses received from the Asio platform API",
	})

	// TokenExchanges — количество обменов client credentials на токен.
	TokenExchanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asioctl_token_exchanges_total",
		Help: "Total OAuth2 client-credentials token exchanges performed",
	})
)

// ServeMetrics поднимает promhttp listener на addr.
//
// Используется для долгих интерактивных сессий (--metrics-addr):
// позволяет смотреть, сколько запросов и 429 съела сессия polling'а.
// Ошибка сервера логируется и не прерывает работу оболочки.
func ServeMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()
}
