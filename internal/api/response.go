package api

import (
	"net/http"

	"github.com/go-chi/render"
)

// Response 是统一的 JSON 响应结构。
type Response struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Data   any    `json:"data,omitempty"`
}

func success(w http.ResponseWriter, r *http.Request, msg string, data any) {
	render.JSON(w, r, Response{Status: 0, Msg: msg, Data: data})
}

func failure(w http.ResponseWriter, r *http.Request, code int, msg string, err error) {
	resp := Response{Status: code, Msg: msg}
	if err != nil {
		resp.Data = map[string]string{"error": err.Error()}
	}
	render.Status(r, code)
	render.JSON(w, r, resp)
}
