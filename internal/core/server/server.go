package server

import (
	"fmt"
	"net/http"
	"time"

	"lostfound/internal/core/config"
)

func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// New 统一超时口径的 http.Server，避免各入口手抄一遍
func New(addr string, h http.Handler, cfg config.HTTP) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSec) * time.Second,
	}
}
