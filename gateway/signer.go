package gateway

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// timeNowMillis 可在测试中替换。
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// Signer Backpack 的 ED25519 请求签名。
type Signer struct {
	apiKey string
	key    ed25519.PrivateKey
	window int64
}

// NewSigner apiKey 为 base64 公钥，secret 为 base64 的 32 字节种子。
func NewSigner(apiKey, secret string, windowMs int64) (*Signer, error) {
	seed, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("api secret must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	if windowMs <= 0 {
		windowMs = 5000
	}
	return &Signer{apiKey: apiKey, key: ed25519.NewKeyFromSeed(seed), window: windowMs}, nil
}

func (s *Signer) APIKey() string { return s.apiKey }
func (s *Signer) Window() int64 { return s.window }
func (s *Signer) Public() []byte { return s.key.Public().(ed25519.PublicKey) }

// SigningString instruction=<x>&<排序后的参数>&timestamp=<ts>&window=<w>
func SigningString(instruction string, params map[string]string, ts, window int64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("instruction=")
	b.WriteString(instruction)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString("&timestamp=")
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteString("&window=")
	b.WriteString(strconv.FormatInt(window, 10))
	return b.String()
}

// Sign 返回 (时间戳, base64 签名)。
func (s *Signer) Sign(instruction string, params map[string]string) (int64, string) {
	ts := timeNowMillis()
	msg := SigningString(instruction, params, ts, s.window)
	sig := ed25519.Sign(s.key, []byte(msg))
	return ts, base64.StdEncoding.EncodeToString(sig)
}
