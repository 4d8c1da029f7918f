package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/liangyou/appgate/internal/presentation"
)

const sseKeepAlive = 25 * time.Second

// events 以 Server-Sent Events 推送视图变化，连接建立时先推送当前视图。
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// 只保留最新视图，慢客户端跳过中间状态
	updates := make(chan presentation.View, 1)
	push := func(v presentation.View) {
		for {
			select {
			case updates <- v:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	cancel := s.presenter.Watch(push)
	defer cancel()

	connID := uuid.NewString()
	s.logger.Debug("sse client connected", "connection_id", connID, "remote", r.RemoteAddr)
	defer s.logger.Debug("sse client disconnected", "connection_id", connID)

	if err := writeEvent(w, "gate", s.presenter.View()); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case v := <-updates:
			if err := writeEvent(w, "gate", v); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
