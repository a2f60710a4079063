package s3

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gemini/internal/blob/core"
)

// MockBucket is the bucket served by the fake transport.
const MockBucket = "mock-bucket"

// MockServer is an in-process fake of the S3 REST subset the Store uses:
// bucket head/create, object put/get/head/delete, tagging and ListObjectsV2.
// It is an http.RoundTripper, so no network is involved.
type MockServer struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]mockObj
	puts    int
}

type mockObj struct {
	body        []byte
	contentType string
	etag        string
	metadata    map[string]string
	tags        map[string]string
	modified    time.Time
}

// NewMockServer returns a fake with MockBucket already created.
func NewMockServer() *MockServer {
	return &MockServer{buckets: map[string]bool{MockBucket: true}, objects: make(map[string]mockObj)}
}

// NewMockForTests returns a Store backed by a fresh MockServer.
func NewMockForTests() *Store {
	st, _ := NewWithMock(NewMockServer())
	return st
}

// NewWithMock returns a Store whose transport is m.
func NewWithMock(m *MockServer) (*Store, error) {
	return New(context.Background(), Config{
		Region:          DefaultRegion,
		Bucket:          MockBucket,
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: m},
	})
}

// Puts returns the number of object PUT requests served.
func (m *MockServer) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Object returns the stored body of key.
func (m *MockServer) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return bytes.Clone(o.body), ok
}

// RoundTrip serves one S3 request.
func (m *MockServer) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	q := req.URL.Query()

	if key == "" {
		switch {
		case req.Method == http.MethodHead:
			if m.buckets[bucket] {
				return respond(http.StatusOK, nil, nil), nil
			}
			return respond(http.StatusNotFound, nil, nil), nil
		case req.Method == http.MethodPut:
			m.buckets[bucket] = true
			return respond(http.StatusOK, nil, nil), nil
		case req.Method == http.MethodGet && q.Get("list-type") == "2":
			return m.list(bucket, q.Get("prefix")), nil
		}
		return respond(http.StatusNotImplemented, nil, nil), nil
	}
	if !m.buckets[bucket] {
		return s3Error(http.StatusNotFound, "NoSuchBucket"), nil
	}

	switch req.Method {
	case http.MethodPut:
		body, err := readBody(req)
		if err != nil {
			return s3Error(http.StatusBadRequest, "IncompleteBody"), nil
		}
		tags, err := core.DecodeTags(req.Header.Get("X-Amz-Tagging"))
		if err != nil {
			return s3Error(http.StatusBadRequest, "InvalidTag"), nil
		}
		etag, _, _ := core.ETag(bytes.NewReader(body))
		m.objects[key] = mockObj{
			body:        body,
			contentType: req.Header.Get("Content-Type"),
			etag:        etag,
			metadata:    userMetadata(req.Header),
			tags:        tags,
			modified:    time.Now().UTC().Truncate(time.Second),
		}
		m.puts++
		return respond(http.StatusOK, http.Header{"Etag": {quote(etag)}}, nil), nil
	case http.MethodHead, http.MethodGet:
		o, ok := m.objects[key]
		if !ok {
			if req.Method == http.MethodHead {
				return respond(http.StatusNotFound, nil, nil), nil
			}
			return s3Error(http.StatusNotFound, "NoSuchKey"), nil
		}
		if req.Method == http.MethodGet && q.Has("tagging") {
			return xmlResponse(http.StatusOK, taggingXML(o.tags)), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(o.body))},
			"Content-Type":   {o.contentType},
			"Etag":           {quote(o.etag)},
			"Last-Modified":  {o.modified.Format(http.TimeFormat)},
		}
		for k, v := range o.metadata {
			h.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, h, nil), nil
		}
		return respond(http.StatusOK, h, o.body), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (m *MockServer) list(bucket, prefix string) *http.Response {
	if !m.buckets[bucket] {
		return s3Error(http.StatusNotFound, "NoSuchBucket")
	}
	type content struct {
		Key          string `xml:"Key"`
		Size         int64  `xml:"Size"`
		ETag         string `xml:"ETag"`
		LastModified string `xml:"LastModified"`
	}
	type result struct {
		XMLName     xml.Name  `xml:"ListBucketResult"`
		Name        string    `xml:"Name"`
		Prefix      string    `xml:"Prefix"`
		IsTruncated bool      `xml:"IsTruncated"`
		Contents    []content `xml:"Contents"`
	}
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	res := result{Name: bucket, Prefix: prefix}
	for _, k := range keys {
		o := m.objects[k]
		res.Contents = append(res.Contents, content{
			Key: k, Size: int64(len(o.body)), ETag: quote(o.etag),
			LastModified: o.modified.Format(time.RFC3339),
		})
	}
	return xmlResponse(http.StatusOK, res)
}

func taggingXML(tags map[string]string) any {
	type tag struct {
		Key   string `xml:"Key"`
		Value string `xml:"Value"`
	}
	type tagging struct {
		XMLName xml.Name `xml:"Tagging"`
		TagSet  []tag    `xml:"TagSet>Tag"`
	}
	out := tagging{}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.TagSet = append(out.TagSet, tag{Key: k, Value: tags[k]})
	}
	return out
}

func userMetadata(h http.Header) map[string]string {
	var md map[string]string
	for k, v := range h {
		lk := strings.ToLower(k)
		if name, ok := strings.CutPrefix(lk, "x-amz-meta-"); ok && len(v) > 0 {
			if md == nil {
				md = make(map[string]string)
			}
			md[name] = v[0]
		}
	}
	return md
}

// readBody returns the request payload, decoding aws-chunked framing when present.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		return raw, nil
	}
	return decodeChunked(raw)
}

// decodeChunked decodes "<hex>[;ext]\r\n<data>\r\n ... 0\r\n" framing.
func decodeChunked(b []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("chunk header: %w", err)
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", sizeHex, err)
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, n); err != nil {
			return nil, fmt.Errorf("chunk body: %w", err)
		}
		if _, err := r.Discard(2); err != nil {
			return nil, fmt.Errorf("chunk trailer: %w", err)
		}
	}
}

func quote(etag string) string { return `"` + etag + `"` }

func respond(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func xmlResponse(status int, v any) *http.Response {
	b, _ := xml.Marshal(v)
	b = append([]byte(xml.Header), b...)
	return respond(status, http.Header{"Content-Type": {"application/xml"}}, b)
}

func s3Error(status int, code string) *http.Response {
	type s3err struct {
		XMLName xml.Name `xml:"Error"`
		Code    string   `xml:"Code"`
		Message string   `xml:"Message"`
	}
	return xmlResponse(status, s3err{Code: code, Message: code})
}
