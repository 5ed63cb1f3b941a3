// Package request implements the Request Parser / Builder of spec §4.1: it
// turns a free-form CRLF/LF request blob into a structured ParsedRequest and
// back, preserving exactly what would go out on the wire.
package request

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yujitounai/fuzzer-api/core"
)

// Header is one request header in emission order. Headers are kept as an
// ordered slice, not a map, because duplicate header names and emission
// order both matter for the wire-level reconstruction spec §4.1 requires.
type Header struct {
	Key   string
	Value string
}

// Headers is an ordered header list with case-insensitive lookup.
type Headers []Header

// Get returns the first value for key (case-insensitive), and whether it was found.
func (h Headers) Get(key string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Without returns a copy of h with every header matching any of keys removed
// (case-insensitive). Used by the executor to strip hop-by-hop headers.
func (h Headers) Without(keys ...string) Headers {
	out := make(Headers, 0, len(h))
	for _, hdr := range h {
		skip := false
		for _, k := range keys {
			if strings.EqualFold(hdr.Key, k) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, hdr)
		}
	}
	return out
}

// Set appends a header, or replaces the value of the first case-insensitive
// match, returning the updated slice.
func (h Headers) Set(key, value string) Headers {
	for i, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			h[i].Value = value
			return h
		}
	}
	return append(h, Header{Key: key, Value: value})
}

// ParsedRequest is the structured result of Parse.
type ParsedRequest struct {
	Method  string
	Target  string
	Version string
	Headers Headers
	Body    []byte
}

const defaultVersion = "HTTP/1.1"

// Parse implements spec §4.1's parsing rules. It never panics; malformed
// input (empty blob, missing method/target) returns core.ErrMalformedRequest.
func Parse(blob []byte) (*ParsedRequest, error) {
	if len(blob) == 0 {
		return nil, core.NewError("request.Parse", "malformed_request", core.ErrMalformedRequest, "empty blob")
	}

	rest := blob
	var requestLine []byte
	requestLine, rest, _ = cutLine(rest)
	for len(requestLine) == 0 && len(rest) > 0 {
		requestLine, rest, _ = cutLine(rest)
	}
	if len(requestLine) == 0 {
		return nil, core.NewError("request.Parse", "malformed_request", core.ErrMalformedRequest, "empty blob")
	}

	parts := strings.SplitN(string(requestLine), " ", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, core.NewError("request.Parse", "malformed_request", core.ErrMalformedRequest, "missing method or target")
	}

	req := &ParsedRequest{
		Method:  strings.ToUpper(parts[0]),
		Target:  parts[1],
		Version: defaultVersion,
	}
	if len(parts) == 3 && parts[2] != "" {
		req.Version = parts[2]
	}

	var lastKey string
	sawBlankLine := false
	usedCRLF := true
	for len(rest) > 0 {
		var line []byte
		var hadCRLF bool
		line, rest, hadCRLF = cutLine(rest)
		usedCRLF = hadCRLF
		if len(line) == 0 {
			sawBlankLine = true
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && lastKey != "" {
			cont := strings.TrimSpace(string(line))
			for i := len(req.Headers) - 1; i >= 0; i-- {
				if req.Headers[i].Key == lastKey {
					req.Headers[i].Value = req.Headers[i].Value + " " + cont
					break
				}
			}
			continue
		}
		colon := indexByte(line, ':')
		if colon < 0 {
			key := string(line)
			req.Headers = append(req.Headers, Header{Key: key})
			lastKey = key
			continue
		}
		key := string(line[:colon])
		value := strings.TrimSpace(string(line[colon+1:]))
		req.Headers = append(req.Headers, Header{Key: key, Value: value})
		lastKey = key
	}

	if sawBlankLine {
		req.Body = extractBody(rest, req.isMultipart(), usedCRLF)
	}

	return req, nil
}

// isMultipart reports whether the parsed Content-Type declares a multipart
// form, per spec §4.1's body-extraction exception.
func (r *ParsedRequest) isMultipart() bool {
	ct, ok := r.Headers.Get("Content-Type")
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "multipart/")
}

// extractBody returns the body bytes per spec §4.1: multipart bodies are
// preserved byte-for-byte; otherwise, if the separator used bare LF, the
// body's internal line endings are normalized to CRLF, and if the blob
// already used CRLF the body is used verbatim.
func extractBody(raw []byte, multipart, usedCRLF bool) []byte {
	if len(raw) == 0 {
		return nil
	}
	if multipart || usedCRLF {
		return raw
	}
	return []byte(strings.ReplaceAll(string(raw), "\n", "\r\n"))
}

// cutLine splits off the first line of data (without its terminator),
// reporting whether that line was terminated by CRLF (as opposed to a bare
// LF or end-of-input). The returned remainder starts just after the
// terminator.
func cutLine(data []byte) (line, remainder []byte, hadCRLF bool) {
	nl := indexByte(data, '\n')
	if nl < 0 {
		return data, nil, false
	}
	end := nl
	hadCRLF = end > 0 && data[end-1] == '\r'
	if hadCRLF {
		end--
	}
	return data[:end], data[nl+1:], hadCRLF
}

func indexByte(data []byte, b byte) int {
	for i, c := range data {
		if c == b {
			return i
		}
	}
	return -1
}

// Build reconstructs the wire-level request text from a ParsedRequest:
// request line, headers in emitted order, blank line, then the body (or a
// placeholder marker if the body is not valid UTF-8). This is the
// reconstruction spec §4.1 requires to be stored in JobResult.ActualRequest
// for auditability.
func Build(req *ParsedRequest) string {
	var b strings.Builder

	version := req.Version
	if version == "" {
		version = defaultVersion
	}
	b.WriteString(req.Method)
	b.WriteString(" ")
	b.WriteString(req.Target)
	b.WriteString(" ")
	b.WriteString(version)
	b.WriteString("\r\n")

	for _, h := range req.Headers {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	if len(req.Body) > 0 {
		if utf8.Valid(req.Body) {
			b.Write(req.Body)
		} else {
			b.WriteString("[Binary data: ")
			b.WriteString(strconv.Itoa(len(req.Body)))
			b.WriteString(" bytes]")
		}
	}

	return b.String()
}
