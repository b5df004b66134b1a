package apiclient

import (
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const acceptEncoding = "br, gzip, deflate"

var (
	gzipPool   = sync.Pool{New: func() any { return new(gzip.Reader) }}
	brotliPool = sync.Pool{New: func() any { return brotli.NewReader(nil) }}
)

// decodingTransport advertises compression and transparently decodes the
// response body.
type decodingTransport struct {
	next http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// pooledBody closes the decoder and the wire body, then recycles the decoder.
type pooledBody struct {
	io.Reader
	closeDecoder func() error
	wire         io.ReadCloser
	release      func()
}

func (b *pooledBody) Close() error {
	var err error
	if b.closeDecoder != nil {
		err = b.closeDecoder()
	}
	err = errors.Join(err, b.wire.Close())
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return err
}

// decodeBody unwraps Content-Encoding layers in reverse order of application.
func decodeBody(resp *http.Response) error {
	encodings := resp.Header.Values("Content-Encoding")
	if resp.Body == nil || len(encodings) == 0 {
		return nil
	}

	var layers []string
	for _, v := range encodings {
		for _, e := range strings.Split(v, ",") {
			layers = append(layers, strings.ToLower(strings.TrimSpace(e)))
		}
	}

	for i := len(layers) - 1; i >= 0; i-- {
		wire := resp.Body
		switch layers[i] {
		case "gzip", "x-gzip":
			zr := gzipPool.Get().(*gzip.Reader)
			if err := zr.Reset(wire); err != nil {
				gzipPool.Put(zr)
				return fmt.Errorf("invalid gzip response body: %w", err)
			}
			resp.Body = &pooledBody{Reader: zr, closeDecoder: zr.Close, wire: wire, release: func() { gzipPool.Put(zr) }}
		case "br":
			br := brotliPool.Get().(*brotli.Reader)
			if err := br.Reset(wire); err != nil {
				brotliPool.Put(br)
				return fmt.Errorf("invalid brotli response body: %w", err)
			}
			resp.Body = &pooledBody{Reader: br, wire: wire, release: func() { brotliPool.Put(br) }}
		case "deflate":
			zr, err := zlib.NewReader(wire)
			if err != nil {
				return fmt.Errorf("invalid deflate response body: %w", err)
			}
			resp.Body = &pooledBody{Reader: zr, closeDecoder: zr.Close, wire: wire}
		case "identity", "":
		default:
			return fmt.Errorf("unsupported Content-Encoding %q", layers[i])
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}
