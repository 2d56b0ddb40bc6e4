// Package bakery embeds Open Badge assertions into PNG images as an iTXt
// chunk keyed "openbadges", per the Open Badges baking specification.
package bakery

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"time"
)

// Keyword is the iTXt keyword consumers look for when unbaking.
const Keyword = "openbadges"

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

var (
	ErrNotPNG   = errors.New("bakery: not a PNG image")
	ErrNotBaked = errors.New("bakery: no baked assertion found")
)

// Bake returns a copy of img with the assertion embedded. An existing
// openbadges chunk is replaced, so re-baking is idempotent.
func Bake(img []byte, assertion any) ([]byte, error) {
	payload, err := json.Marshal(assertion)
	if err != nil {
		return nil, fmt.Errorf("bakery: marshal assertion: %w", err)
	}

	if !bytes.HasPrefix(img, pngSignature) {
		return nil, ErrNotPNG
	}

	var out bytes.Buffer
	out.Write(pngSignature)

	rest := img[len(pngSignature):]
	inserted := false
	for len(rest) >= 8 {
		length := binary.BigEndian.Uint32(rest[:4])
		total := 12 + int(length) // length + type + data + crc
		if len(rest) < total {
			return nil, ErrNotPNG
		}
		chunkType := string(rest[4:8])

		switch {
		case chunkType == "iTXt" && isOpenBadgesChunk(rest[8:8+length]):
			// drop the stale assertion
		case chunkType == "IEND":
			writeITXt(&out, payload)
			inserted = true
			out.Write(rest[:total])
		default:
			out.Write(rest[:total])
		}
		rest = rest[total:]
	}
	if !inserted {
		return nil, ErrNotPNG
	}
	return out.Bytes(), nil
}

// Extract returns the assertion JSON previously baked into img.
func Extract(img []byte) ([]byte, error) {
	if !bytes.HasPrefix(img, pngSignature) {
		return nil, ErrNotPNG
	}
	rest := img[len(pngSignature):]
	for len(rest) >= 8 {
		length := binary.BigEndian.Uint32(rest[:4])
		total := 12 + int(length)
		if len(rest) < total {
			return nil, ErrNotPNG
		}
		if string(rest[4:8]) == "iTXt" && isOpenBadgesChunk(rest[8:8+length]) {
			data := rest[8 : 8+length]
			// keyword NUL flag method NUL NUL text
			idx := bytes.IndexByte(data, 0)
			payload := data[idx+1:]
			payload = payload[2:] // compression flag + method
			for i := 0; i < 2; i++ {
				j := bytes.IndexByte(payload, 0)
				if j < 0 {
					return nil, ErrNotBaked
				}
				payload = payload[j+1:]
			}
			return payload, nil
		}
		rest = rest[total:]
	}
	return nil, ErrNotBaked
}

func isOpenBadgesChunk(data []byte) bool {
	idx := bytes.IndexByte(data, 0)
	return idx > 0 && string(data[:idx]) == Keyword
}

func writeITXt(out *bytes.Buffer, payload []byte) {
	var data bytes.Buffer
	data.WriteString(Keyword)
	data.WriteByte(0) // keyword terminator
	data.WriteByte(0) // compression flag: uncompressed
	data.WriteByte(0) // compression method
	data.WriteByte(0) // empty language tag
	data.WriteByte(0) // empty translated keyword
	data.Write(payload)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(data.Len()))
	out.Write(length[:])

	chunk := append([]byte("iTXt"), data.Bytes()...)
	out.Write(chunk)

	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.ChecksumIEEE(chunk))
	out.Write(crc[:])
}

// Client fetches badge images over HTTP and bakes assertions into them.
type Client struct {
	http *http.Client
}

// NewClient builds a baking client with the given fetch timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// BakeFromURL downloads the badge image and embeds the assertion.
func (c *Client) BakeFromURL(ctx context.Context, imageURL string, assertion any) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bakery: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bakery: fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bakery: fetch image: unexpected status %d", resp.StatusCode)
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("bakery: read image: %w", err)
	}
	return Bake(img, assertion)
}
