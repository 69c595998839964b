package storage

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 is a path-style S3 endpoint serving ListObjectsV2, GetObject and
// single-part PutObject from memory.
type fakeS3 struct {
	bucket   string
	pageSize int

	mu      sync.Mutex
	objects map[string][]byte
	lists   []string // continuation tokens received, in order
	gets    []string
}

func newFakeS3(t *testing.T, bucket string, objects map[string][]byte) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{bucket: bucket, pageSize: 2, objects: objects}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return f, server
}

type listResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Xmlns                 string         `xml:"xmlns,attr"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	KeyCount              int            `xml:"KeyCount"`
	MaxKeys               int            `xml:"MaxKeys"`
	IsTruncated           bool           `xml:"IsTruncated"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []listContents `xml:"Contents"`
}

type listContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

var lastModified = time.Date(2017, 8, 25, 0, 5, 0, 0, time.UTC)

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		f.list(w, r)
	case (r.Method == http.MethodGet || r.Method == http.MethodHead) && key != "":
		f.gets = append(f.gets, key)
		body, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Last-Modified", lastModified.Format(http.TimeFormat))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	case r.Method == http.MethodPut && key != "":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.objects[key] = body
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented")
	}
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	token := r.URL.Query().Get("continuation-token")
	f.lists = append(f.lists, token)

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(token, "idx-"))
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "InvalidArgument")
			return
		}
		start = n
	}
	end := min(start+f.pageSize, len(keys))

	result := listResult{
		Xmlns:             "http://s3.amazonaws.com/doc/2006-03-01/",
		Name:              f.bucket,
		Prefix:            prefix,
		KeyCount:          end - start,
		MaxKeys:           f.pageSize,
		ContinuationToken: token,
	}
	if end < len(keys) {
		result.IsTruncated = true
		result.NextContinuationToken = fmt.Sprintf("idx-%d", end)
	}
	for _, k := range keys[start:end] {
		result.Contents = append(result.Contents, listContents{
			Key:          k,
			LastModified: lastModified.Format("2006-01-02T15:04:05.000Z"),
			ETag:         `"d41d8cd98f00b204e9800998ecf8427e"`,
			Size:         len(f.objects[k]),
			StorageClass: "STANDARD",
		})
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(result)
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `%s<Error><Code>%s</Code><Message>%s</Message><RequestId>test</RequestId></Error>`, xml.Header, code, code)
}

func testObjects() map[string][]byte {
	return map[string][]byte{
		"2017/08/25/KABR/KABR20170825_000000_V06": []byte("abr-1"),
		"2017/08/25/KABR/KABR20170825_000400_V06": []byte("abr-2"),
		"2017/08/25/KFSD/KFSD20170825_000100_V06": []byte("fsd-1"),
		"2017/08/24/KFSD/KFSD20170824_235900_V06": []byte("fsd-0"),
	}
}
