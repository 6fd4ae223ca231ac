package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"okx-tracker/internal/monitor"
	"okx-tracker/internal/preferences"
	"okx-tracker/internal/snapshot"
)

// snapshotResponse 为渲染层读取的视图。
type snapshotResponse struct {
	Snapshot *snapshot.AccountSnapshot `json:"snapshot"`
	Loading  bool                      `json:"loading"`
}

// Handler 返回对外 HTTP 路由。
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshot", a.handleSnapshot)
	mux.HandleFunc("POST /api/refresh", a.handleRefresh)
	mux.HandleFunc("GET /api/preferences", a.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences", a.handlePutPreferences)
	mux.HandleFunc("GET /events", a.handleEvents)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", a.metrics.Handler())
	if a.cfg.Server.WebSocket {
		mux.Handle("GET /ws", a.hub)
	}
	return mux
}

func (a *App) startServer(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP 服务异常", zap.Error(err))
		}
	}()

	a.logger.Info("HTTP 接口已启动", zap.String("addr", ln.Addr().String()))
	return nil
}

func (a *App) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, snapshotResponse{
		Snapshot: a.aggregator.Current(),
		Loading:  a.aggregator.Loading(),
	})
}

func (a *App) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	queued := a.TriggerRefresh()
	a.writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (a *App) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	settings, err := a.preferences.Load(r.Context())
	if err != nil {
		a.logger.Warn("读取界面偏好失败，使用默认值", zap.Error(err))
	}
	a.writeJSON(w, http.StatusOK, settings)
}

func (a *App) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var patch preferences.Patch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		http.Error(w, "invalid preferences payload", http.StatusBadRequest)
		return
	}

	settings, err := a.preferences.Update(r.Context(), patch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, settings)
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := a.monitor.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, events)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("写入响应失败", zap.Error(err))
	}
}
