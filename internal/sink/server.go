// Package sink 是本地开发用的进程事件接收端。
// 它接收 HTTP 发送器投递的信封，按 series 检查序号连续性，
// 通过 WebSocket 把信封实时推给 `cargo tail`，并充当大载荷的带外上传目标。
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/logging"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/oriys/nimbus-cargo/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// maxEnvelopeBytes 限制单个请求体，大于信封上限的内容应走带外上传
const maxEnvelopeBytes = 8 << 20

// Options 配置接收端。
type Options struct {
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
	// Gatherer 为 nil 时 /metrics 使用默认注册表
	Gatherer prometheus.Gatherer
	// ServiceName 用于服务端 Span 名称
	ServiceName string
}

// Receipt 是接收一个信封后的响应。
type Receipt struct {
	Series    string `json:"series"`
	Sequence  int64  `json:"sequence"`
	Gap       bool   `json:"gap"`
	Duplicate bool   `json:"duplicate"`
}

// seriesState 记录某个 series 已收到的信封
type seriesState struct {
	last    int64
	events  []*domain.ProcessEvent
	updated time.Time
}

// Server 是开发接收端。
type Server struct {
	opts   Options
	logger logrus.FieldLogger
	hub    *hub

	upgrader websocket.Upgrader

	mu      sync.Mutex
	series  map[string]*seriesState
	uploads map[string][]byte
}

// New 创建接收端。
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "cargo-sink"
	}
	return &Server{
		opts:   opts,
		logger: opts.Logger.WithField("component", "sink"),
		hub:    newHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
		series:  make(map[string]*seriesState),
		uploads: make(map[string][]byte),
	}
}

// Router 返回接收端的路由。
//
//	POST /v1/process-events        接收信封
//	GET  /v1/process-events/{series} 查询某个 series 已收到的信封
//	GET  /v1/stream                WebSocket 实时推送（?series= 过滤）
//	PUT  /v1/uploads/{key}         大载荷带外上传
//	GET  /v1/uploads/{key}         读取已上传的大载荷
//	GET  /metrics                  Prometheus 指标
//	GET  /healthz                  健康检查
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.HTTPMiddleware(s.opts.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/process-events", s.receive)
		r.Get("/process-events/{series}", s.listSeries)
		r.Get("/stream", s.stream)
		r.Put("/uploads/{key}", s.upload)
		r.Get("/uploads/{key}", s.download)
	})
	return r
}

// ListenAndServe 在 addr 上提供服务，ctx 取消时优雅关闭。
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Sink listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.count(),
	})
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	var ev domain.ProcessEvent
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEnvelopeBytes))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid process event: "+err.Error())
		return
	}
	if ev.Series() == "" || ev.Sequence() < 0 {
		writeError(w, http.StatusBadRequest, "process event meta must carry series and messageSequence")
		return
	}

	receipt := s.record(&ev)
	s.opts.Metrics.RecordReceived(string(ev.Phase()), receipt.Gap)

	logger := telemetry.EntryWithTraceContext(r.Context(), s.logger.WithFields(logrus.Fields{
		"series":   receipt.Series,
		"sequence": receipt.Sequence,
		"type":     ev.Type,
	}))
	switch {
	case receipt.Duplicate:
		logger.Warn("Duplicate process event")
	case receipt.Gap:
		logger.Warn("Sequence gap in process events")
	default:
		logger.Debug("Process event received")
	}

	if !receipt.Duplicate {
		s.hub.broadcast(&ev)
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// record 在锁内更新 series 状态并判断缺口与重复
func (s *Server) record(ev *domain.ProcessEvent) Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, seq := ev.Series(), ev.Sequence()
	st, ok := s.series[series]
	if !ok {
		st = &seriesState{last: -1}
		s.series[series] = st
	}

	receipt := Receipt{Series: series, Sequence: seq}
	if seq <= st.last {
		receipt.Duplicate = true
		return receipt
	}
	receipt.Gap = seq != st.last+1
	st.last = seq
	st.events = append(st.events, ev)
	st.updated = time.Now()
	return receipt
}

func (s *Server) listSeries(w http.ResponseWriter, r *http.Request) {
	series := chi.URLParam(r, "series")

	s.mu.Lock()
	st, ok := s.series[series]
	var events []*domain.ProcessEvent
	if ok {
		events = append(events, st.events...)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("series %s not found", series))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"series": series,
		"events": events,
	})
}

// Events 返回某个 series 已收到的信封（按序号）。
func (s *Server) Events(series string) []*domain.ProcessEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.series[series]; ok {
		return append([]*domain.ProcessEvent(nil), st.events...)
	}
	return nil
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.hub.subscribe(r.URL.Query().Get("series"))
	defer s.hub.unsubscribe(ch)

	// 监听客户端关闭
	done := make(chan struct{})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	s.mu.Lock()
	s.uploads[key] = data
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"key": key, "bytes": len(data)}).Info("Large payload uploaded")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	s.mu.Lock()
	data, ok := s.uploads[key]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("upload %s not found", key))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
