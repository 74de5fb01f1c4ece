package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"testing"

	"github.com/andybalholm/brotli"
)

func respWith(encoding string, body []byte) *http.Response {
	return &http.Response{
		Header: http.Header{"Content-Encoding": []string{encoding}},
		Body:   io.NopCloser(bytes.NewReader(body)),
	}
}

func TestDecodeBody(t *testing.T) {
	payload := []byte(`{"js":{"token":"T"}}`)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(payload)
	zw.Close()

	var fl bytes.Buffer
	fw, _ := flate.NewWriter(&fl, flate.DefaultCompression)
	fw.Write(payload)
	fw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	bw.Write(payload)
	bw.Close()

	cases := []struct {
		encoding string
		body     []byte
	}{
		{"", payload},
		{"identity", payload},
		{"gzip", gz.Bytes()},
		{"GZIP", gz.Bytes()},
		{"deflate", fl.Bytes()},
		{"br", br.Bytes()},
	}
	for _, tc := range cases {
		r, err := DecodeBody(respWith(tc.encoding, tc.body))
		if err != nil {
			t.Fatalf("%q: DecodeBody: %v", tc.encoding, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%q: read: %v", tc.encoding, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%q: got %q", tc.encoding, got)
		}
	}
}
