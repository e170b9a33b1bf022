// Package response holds the buffered HTTP response value passed between
// handlers, the cache tier, and the host.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Response is a fully buffered HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// New builds a response with an empty header set.
func New(status int, body []byte) Response {
	return Response{Status: status, Header: make(http.Header), Body: body}
}

// Text builds a plain-text response.
func Text(status int, body string) Response {
	resp := New(status, []byte(body))
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return resp
}

// JSON encodes payload as a JSON response.
func JSON(status int, payload any) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode json response: %w", err)
	}
	resp := New(status, append(body, '\n'))
	resp.Header.Set("Content-Type", "application/json; charset=utf-8")
	return resp, nil
}

// NotFound is the response for requests that match no route and no cached
// entry: status 404 with an empty body.
func NotFound() Response {
	return New(http.StatusNotFound, nil)
}

// StatusOK reports whether the status is in the 2xx range.
func (r Response) StatusOK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy.
func (r Response) Clone() Response {
	return Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   bytes.Clone(r.Body),
	}
}

// Write copies the response onto w. A zero status is written as 200.
func (r Response) Write(w http.ResponseWriter) error {
	if w == nil {
		return nil
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	dst := w.Header()
	for key, values := range r.Header {
		dst.Del(key)
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	if len(r.Body) > 0 && dst.Get("Content-Length") == "" {
		dst.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	w.WriteHeader(status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}

// Recorder captures a handler's output into a Response.
type Recorder struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

// NewRecorder returns an empty recorder with status 200.
func NewRecorder() *Recorder {
	return &Recorder{header: make(http.Header), status: http.StatusOK}
}

// Header implements http.ResponseWriter.
func (w *Recorder) Header() http.Header {
	return w.header
}

// WriteHeader implements http.ResponseWriter. Only the first call counts.
func (w *Recorder) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
}

// Write implements http.ResponseWriter.
func (w *Recorder) Write(body []byte) (int, error) {
	w.wroteHeader = true
	return w.body.Write(body)
}

// Response returns the captured response.
func (w *Recorder) Response() Response {
	header := w.header.Clone()
	for key := range header {
		if strings.EqualFold(key, "Content-Length") {
			header.Del(key)
		}
	}
	return Response{
		Status: w.status,
		Header: header,
		Body:   bytes.Clone(w.body.Bytes()),
	}
}
