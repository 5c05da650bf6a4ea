package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"clawd/internal/gateway"

	"github.com/gorilla/mux"
)

// WebhookChannel 简单的 HTTP 入站渠道：POST /message 收消息，同步返回回复。
// WebhookChannel is the HTTP inbound transport: POST /message takes one
// message and returns the reply synchronously.
type WebhookChannel struct {
	addr   string
	logger *slog.Logger

	boundAddr string
	// 监听就绪后关闭 / closed once the listener is up
	ready chan struct{}
}

type webhookRequest struct {
	Sender  string `json:"sender"`
	GroupID string `json:"group_id,omitempty"`
	Content string `json:"content"`
}

type webhookResponse struct {
	Reply string `json:"reply"`
}

type webhookError struct {
	Error string `json:"error"`
}

func NewWebhook(addr string, logger *slog.Logger) *WebhookChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookChannel{
		addr:   addr,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

// Addr 返回实际监听地址；在 ready 之前调用返回空串。
// Addr reports the bound listen address; empty until the server is up.
func (w *WebhookChannel) Addr() string {
	select {
	case <-w.ready:
		return w.boundAddr
	default:
		return ""
	}
}

// Run 启动 HTTP 服务并阻塞，ctx 取消时优雅停机。
// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (w *WebhookChannel) Run(ctx context.Context, handle HandlerFunc) error {
	router := mux.NewRouter()
	router.HandleFunc("/message", w.handleMessage(handle)).Methods(http.MethodPost)
	router.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	w.boundAddr = ln.Addr().String()
	w.logger.Info("webhook channel listening", "addr", w.boundAddr)
	close(w.ready)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (w *WebhookChannel) handleMessage(handle HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, webhookError{Error: "invalid JSON body"})
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeJSON(rw, http.StatusBadRequest, webhookError{Error: "content is required"})
			return
		}

		reply, err := handle(r.Context(), gateway.IncomingMessage{
			Channel: w.Name(),
			Sender:  req.Sender,
			GroupID: req.GroupID,
			Content: req.Content,
		})
		if err != nil {
			w.logger.Error("webhook message failed", "sender", req.Sender, "error", err)
			writeJSON(rw, http.StatusInternalServerError, webhookError{Error: err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, webhookResponse{Reply: reply})
	}
}

func (w *WebhookChannel) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(rw http.ResponseWriter, code int, payload any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(payload)
}
