package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// RemoteStore writes objects to HTTP object stores that use path-style
// addressing and a per-request signature (Aliyun OSS, Tencent COS).
type RemoteStore struct {
	client   *http.Client
	endpoint string
	signer   Signer
	op       string
}

// RemoteConfig is shared by the provider helpers.
type RemoteConfig struct {
	Endpoint string
	Client   *http.Client
}

// Signer signs HTTP requests for remote providers.
type Signer interface {
	Sign(req *http.Request) error
}

// NewRemoteStore builds a RemoteStore with a signer.
func NewRemoteStore(cfg RemoteConfig, signer Signer) (*RemoteStore, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "storage.remote", "endpoint")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "storage.remote", endpoint, err)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteStore{client: client, endpoint: endpoint, signer: signer, op: "remote.put"}, nil
}

// Put uploads data via HTTP PUT to endpoint/bucket/key.
func (r *RemoteStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	path := bucket + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.objectURL(bucket, key), bytes.NewReader(data))
	if err != nil {
		return xerrors.Wrap(xerrors.KindInvalid, r.op, path, err)
	}
	md5Sum := md5.Sum(data)
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Length", strconv.Itoa(len(data)))
	req.Header.Set("Content-MD5", base64.StdEncoding.EncodeToString(md5Sum[:]))
	req.Header.Set("Host", req.URL.Host)
	if err := r.signer.Sign(req); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, r.op, path, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), r.op, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xerrors.Wrap(kindForStatus(resp.StatusCode), r.op, path,
			fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body))))
	}
	return nil
}

func (r *RemoteStore) objectURL(bucket, key string) string {
	return r.endpoint + "/" + url.PathEscape(bucket) + "/" + escapeKey(key)
}

func escapeKey(key string) string {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func kindForStatus(code int) xerrors.Kind {
	switch {
	case code == http.StatusNotFound:
		return xerrors.KindNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return xerrors.KindPermission
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return xerrors.KindTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		return xerrors.KindUnavailable
	case code >= 400:
		return xerrors.KindInvalid
	default:
		return xerrors.KindInternal
	}
}

// OSSConfig describes the parameters for Aliyun OSS.
type OSSConfig struct {
	RemoteConfig
	AccessKey string
	SecretKey string
}

// NewOSS builds a RemoteStore for Aliyun OSS.
func NewOSS(cfg OSSConfig) (*RemoteStore, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "storage.oss", "oss store requires access key and secret key")
	}
	store, err := NewRemoteStore(cfg.RemoteConfig, &ossSigner{accessKey: cfg.AccessKey, secretKey: cfg.SecretKey, now: time.Now})
	if err != nil {
		return nil, err
	}
	store.op = "oss.put"
	return store, nil
}

// COSConfig describes Tencent COS parameters.
type COSConfig struct {
	RemoteConfig
	AccessKey string
	SecretKey string
}

// NewCOS builds a RemoteStore for Tencent COS.
func NewCOS(cfg COSConfig) (*RemoteStore, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "storage.cos", "cos store requires access key and secret key")
	}
	store, err := NewRemoteStore(cfg.RemoteConfig, &cosSigner{accessKey: cfg.AccessKey, secretKey: cfg.SecretKey, now: time.Now})
	if err != nil {
		return nil, err
	}
	store.op = "cos.put"
	return store, nil
}

// --- Signer implementations ---

type ossSigner struct {
	accessKey string
	secretKey string
	now       func() time.Time
}

func (o *ossSigner) Sign(req *http.Request) error {
	clock := o.now
	if clock == nil {
		clock = time.Now
	}
	date := clock().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	stringToSign := strings.Join([]string{
		req.Method,
		req.Header.Get("Content-MD5"),
		req.Header.Get("Content-Type"),
		date,
		ossCanonicalHeaders(req.Header) + req.URL.EscapedPath(),
	}, "\n")
	mac := hmac.New(sha1.New, []byte(o.secretKey))
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	req.Header.Set("Authorization", fmt.Sprintf("OSS %s:%s", o.accessKey, signature))
	return nil
}

type cosSigner struct {
	accessKey string
	secretKey string
	now       func() time.Time
}

func (c *cosSigner) Sign(req *http.Request) error {
	clock := c.now
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	start := now.Add(-1 * time.Minute).Unix()
	end := now.Add(15 * time.Minute).Unix()
	signTime := fmt.Sprintf("%d;%d", start, end)
	headerList, canonicalHeaders := cosCanonicalHeaders(req.Header)
	queryList, canonicalQuery := cosCanonicalQuery(req.URL)
	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	httpString := strings.Join([]string{
		strings.ToLower(req.Method),
		path,
		canonicalQuery,
		canonicalHeaders,
	}, "\n") + "\n"
	httpHash := sha1.Sum([]byte(httpString))
	stringToSign := fmt.Sprintf("sha1\n%s\n%x\n", signTime, httpHash)
	signKey := hmacSHA1Hex([]byte(c.secretKey), signTime)
	signature := hmacSHA1Hex([]byte(signKey), stringToSign)
	auth := fmt.Sprintf("q-sign-algorithm=sha1&q-ak=%s&q-sign-time=%s&q-key-time=%s&q-header-list=%s&q-url-param-list=%s&q-signature=%s",
		c.accessKey, signTime, signTime, headerList, queryList, signature)
	req.Header.Set("Authorization", auth)
	return nil
}

func ossCanonicalHeaders(h http.Header) string {
	type kv struct {
		key   string
		value string
	}
	var headers []kv
	for k, v := range h {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "x-oss-") {
			headers = append(headers, kv{key: lk, value: strings.Join(v, ",")})
		}
	}
	sort.Slice(headers, func(i, j int) bool {
		return headers[i].key < headers[j].key
	})
	var b strings.Builder
	for _, header := range headers {
		fmt.Fprintf(&b, "%s:%s\n", header.key, header.value)
	}
	return b.String()
}

func cosCanonicalHeaders(h http.Header) (string, string) {
	var keys []string
	values := make(map[string][]string)
	for k, v := range h {
		lk := strings.ToLower(k)
		keys = append(keys, lk)
		values[lk] = append([]string(nil), v...)
	}
	sort.Strings(keys)
	keys = unique(keys)
	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		joined := url.QueryEscape(strings.Join(vs, ","))
		parts = append(parts, fmt.Sprintf("%s=%s", k, joined))
	}
	return strings.Join(keys, ";"), strings.Join(parts, "&")
}

func cosCanonicalQuery(u *url.URL) (string, string) {
	if u.RawQuery == "" {
		return "", ""
	}
	raw := u.Query()
	keys := make([]string, 0, len(raw))
	values := make(map[string][]string)
	for k, v := range raw {
		lk := strings.ToLower(k)
		keys = append(keys, lk)
		values[lk] = append([]string(nil), v...)
	}
	sort.Strings(keys)
	keys = unique(keys)
	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, fmt.Sprintf("%s=%s", k, url.QueryEscape(v)))
		}
	}
	return strings.Join(keys, ";"), strings.Join(parts, "&")
}

func unique(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := []string{in[0]}
	for i := 1; i < len(in); i++ {
		if in[i] != in[i-1] {
			out = append(out, in[i])
		}
	}
	return out
}

func hmacSHA1Hex(key []byte, data string) string {
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
