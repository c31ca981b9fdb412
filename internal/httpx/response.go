package httpx

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// Header represents a single HTTP header field (case preserved as seen on wire).
type Header struct {
	Name  string
	Value string
}

// Response is a minimal HTTP/1.x response: status line, headers and a
// complete body. Header order and spelling are kept exactly.
type Response struct {
	Proto   string
	Status  int
	Reason  string
	Headers []Header
	Body    []byte
}

// HelloWorld is the response every connection receives by default.
func HelloWorld() *Response {
	return TextResponse("Hello world!")
}

// TextResponse builds a close-delimited HTTP/1.0 200 response carrying body.
func TextResponse(body string) *Response {
	return &Response{
		Proto:  "HTTP/1.0",
		Status: 200,
		Reason: "ok",
		Headers: []Header{
			{Name: "Connection", Value: "close"},
			{Name: "Content-length", Value: strconv.Itoa(len(body))},
		},
		Body: []byte(body),
	}
}

// Get returns the first value associated with name (case-insensitive) or empty.
func (r *Response) Get(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Set sets (replaces) a header (case of Name preserved as provided).
func (r *Response) Set(name, value string) {
	for i, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// Del deletes all headers with given name (case-insensitive).
func (r *Response) Del(name string) {
	out := r.Headers[:0]
	for _, h := range r.Headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	r.Headers = out
}

// WriteTo streams the status line, headers and body to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	var total int64
	write := func(b []byte) error {
		n, err := w.Write(b)
		total += int64(n)
		return err
	}
	if err := write([]byte(fmt.Sprintf("%s %d %s\r\n", r.Proto, r.Status, r.Reason))); err != nil {
		return total, err
	}
	for _, h := range r.Headers {
		if err := write([]byte(h.Name + ": " + h.Value + "\r\n")); err != nil {
			return total, err
		}
	}
	if err := write([]byte("\r\n")); err != nil {
		return total, err
	}
	if len(r.Body) > 0 {
		if err := write(r.Body); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes returns the wire encoding of r.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return buf.Bytes()
}

// ParseResponse reads one response from rd: status line, headers (at most
// max bytes) and exactly Content-Length body bytes. Any byte after the body
// is an error, since the server closes right after writing.
func ParseResponse(rd *bufio.Reader, max int) (*Response, error) {
	var head []byte
	for !hasHeaderEnd(head) {
		if len(head) > max {
			return nil, fmt.Errorf("header too large (%d>%d)", len(head), max)
		}
		line, err := rd.ReadBytes('\n')
		head = append(head, line...)
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}

	resp, err := parseHead(head)
	if err != nil {
		return nil, err
	}

	cl := resp.Get("Content-Length")
	if cl == "" {
		return nil, errors.New("missing content-length")
	}
	n, err := strconv.Atoi(cl)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("bad content-length %q", cl)
	}
	resp.Body = make([]byte, n)
	if _, err := io.ReadFull(rd, resp.Body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	extra, err := rd.Peek(1)
	if len(extra) > 0 {
		return nil, errors.New("unexpected bytes after body")
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return resp, nil
}

func hasHeaderEnd(b []byte) bool {
	return bytes.HasSuffix(b, []byte("\r\n\r\n")) || bytes.HasSuffix(b, []byte("\n\n"))
}

func parseHead(head []byte) (*Response, error) {
	reader := bufio.NewReader(bytes.NewReader(head))
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	statusLine = strings.TrimRight(statusLine, "\r\n")
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("bad status line: %q", statusLine)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("bad status code: %q", statusLine)
	}
	resp := &Response{Proto: parts[0], Status: status}
	if len(parts) == 3 {
		resp.Reason = parts[2]
	}
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		colon := strings.Index(line, ":")
		if colon > 0 {
			resp.Headers = append(resp.Headers, Header{Name: line[:colon], Value: strings.TrimSpace(line[colon+1:])})
		}
		if err != nil {
			break
		}
	}
	return resp, nil
}

// RemoteIPFromConn extracts IP portion from remote address.
func RemoteIPFromConn(c net.Conn) string {
	h, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return h
}
