package kernel

import (
	"net/http"
	"strconv"
)

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeXML  = "application/xml; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

// Response 为回调的最终 HTTP 响应。
// 处理器返回 *Response 时，服务端原样写回，不再经过回复编码。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse 创建指定状态码、内容类型与响应体的 Response。
func NewResponse(status int, contentType string, body []byte) *Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{StatusCode: status, Header: h, Body: body}
}

// TextResponse 创建 200 纯文本响应（如 "success" 或 echostr 回显）。
func TextResponse(body string) *Response {
	return NewResponse(http.StatusOK, contentTypeText, []byte(body))
}

// XMLResponse 创建 200 XML 响应。
func XMLResponse(body string) *Response {
	return NewResponse(http.StatusOK, contentTypeXML, []byte(body))
}

// JSONResponse 创建指定状态码的 JSON 响应。
func JSONResponse(status int, body []byte) *Response {
	return NewResponse(status, contentTypeJSON, body)
}

// String 返回响应体文本。
func (r *Response) String() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Write 将响应写入 http.ResponseWriter。
func (r *Response) Write(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := w.Write(r.Body)
	return err
}
