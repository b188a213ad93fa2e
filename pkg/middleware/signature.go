package middleware

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// ParamSign は署名を渡すクエリパラメータ名。
	ParamSign = "sign"
	// ParamTimestamp はUNIX秒のタイムスタンプを渡すクエリパラメータ名。
	ParamTimestamp = "timestamp"

	// DefaultSignatureWindow はタイムスタンプの許容期間の既定値。
	DefaultSignatureWindow = 300 * time.Second
	// DefaultMaxBodyBytes は署名検証で読み込むボディの上限の既定値。
	DefaultMaxBodyBytes int64 = 1 << 20

	// 署名文字列に追加する予約キー
	signKeyBody      = "body"
	signKeyTimestamp = "timestamp"
	signKeySecret    = "secret"

	// contextKeyTrustedCaller は署名検証をバイパスしたリクエストであることを示すキー。
	contextKeyTrustedCaller = "trusted_caller"
)

// 署名検証の失敗理由。
var (
	ErrMissingSign       = errors.New("署名パラメータ(sign)がありません")
	ErrMissingTimestamp  = errors.New("タイムスタンプパラメータ(timestamp)がありません")
	ErrMissingBody       = errors.New("POSTリクエストにボディがありません")
	ErrBodyTooLarge      = errors.New("リクエストボディが大きすぎます")
	ErrInvalidTimestamp  = errors.New("タイムスタンプの形式が不正です")
	ErrTimestampExpired  = errors.New("リクエストの有効期限が切れています")
	ErrTimestampInFuture = errors.New("タイムスタンプが未来の時刻です")
	ErrSignatureMismatch = errors.New("署名の検証に失敗しました")
)

// SignatureError は署名検証の失敗を表す。
// Codeは拒否レスポンスのボディに含めるコード（400: パラメータ不備、401: 認証失敗）。
type SignatureError struct {
	// Code は拒否レスポンスのコード。
	Code int
	// Err は失敗理由。
	Err error
}

// Error はエラーメッセージを返す。
func (e *SignatureError) Error() string { return e.Err.Error() }

// Unwrap は失敗理由を返す。
func (e *SignatureError) Unwrap() error { return e.Err }

func badRequest(err error) error   { return &SignatureError{Code: http.StatusBadRequest, Err: err} }
func unauthorized(err error) error { return &SignatureError{Code: http.StatusUnauthorized, Err: err} }

// SignatureConfig は署名検証の設定。
type SignatureConfig struct {
	// Secret は呼び出し元と共有する秘密鍵。
	Secret string
	// Window はタイムスタンプの許容期間。0以下の場合はDefaultSignatureWindow。
	Window time.Duration
	// BypassToken は署名検証を省略する信頼済み呼び出し元のsign値。
	// 空の場合はバイパスを無効とする。運用者による検証用であり、
	// 設定する場合はセキュリティ上の判断として明示的に承認すること。
	BypassToken string
	// MaxBodyBytes は読み込むボディの上限。0以下の場合はDefaultMaxBodyBytes。
	MaxBodyBytes int64
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// Verified は署名検証を通過したリクエストの情報。
type Verified struct {
	// Body はバッファリングしたリクエストボディ。
	Body []byte
	// Trusted はバイパス値により検証を省略したことを示す。
	Trusted bool
}

// Signature はクエリの署名とタイムスタンプを検証するGinミドルウェアを返す。
// 検証に失敗した場合はHTTP 400と {"code": <int>, "message": <string>} を返し、
// 後続のハンドラーを実行しない。
// 検証に成功した場合、読み込んだボディはc.Requestから再度読み込める。
func Signature(cfg SignatureConfig, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := VerifyRequest(c.Request, cfg)
		if err != nil {
			code := http.StatusBadRequest
			var sigErr *SignatureError
			if errors.As(err, &sigErr) {
				code = sigErr.Code
			}
			log.Warn().
				Err(err).
				Str("request_id", GetRequestID(c)).
				Str("path", c.Request.URL.Path).
				Str("client_ip", c.ClientIP()).
				Msg("署名検証でリクエストを拒否")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    code,
				"message": err.Error(),
			})
			return
		}

		if v.Trusted {
			log.Warn().
				Str("request_id", GetRequestID(c)).
				Str("client_ip", c.ClientIP()).
				Msg("バイパス値により署名検証を省略")
		}
		c.Set(contextKeyTrustedCaller, v.Trusted)
		if len(v.Body) > 0 {
			c.Set(gin.BodyBytesKey, v.Body)
		}
		c.Next()
	}
}

// IsTrustedCaller はリクエストが署名検証のバイパスで通過したかを返す。
func IsTrustedCaller(c *gin.Context) bool {
	return c.GetBool(contextKeyTrustedCaller)
}

// VerifyRequest はリクエストの署名を検証する。
// ボディは一度だけメモリに読み込み、r.Bodyを同じ内容で差し替えるため
// 後続の処理でも読み込める。失敗時は*SignatureErrorを返す。
func VerifyRequest(r *http.Request, cfg SignatureConfig) (*Verified, error) {
	query := r.URL.Query()
	sign := query.Get(ParamSign)
	if sign == "" {
		return nil, badRequest(ErrMissingSign)
	}
	timestamp := query.Get(ParamTimestamp)
	if timestamp == "" {
		return nil, badRequest(ErrMissingTimestamp)
	}

	body, err := bufferBody(r, cfg.maxBodyBytes())
	if err != nil {
		return nil, badRequest(err)
	}

	contentType := r.Header.Get("Content-Type")
	if r.Method == http.MethodPost && len(body) == 0 &&
		contentType != "" && !strings.Contains(contentType, "multipart/form-data") {
		return nil, badRequest(ErrMissingBody)
	}

	if cfg.BypassToken != "" && strings.EqualFold(sign, cfg.BypassToken) {
		return &Verified{Body: body, Trusted: true}, nil
	}

	if err := checkTimestamp(timestamp, cfg.now(), cfg.window()); err != nil {
		return nil, unauthorized(err)
	}

	signedBody := ""
	if signsBody(contentType) {
		signedBody = string(body)
	}
	expected := Sign(query, signedBody, timestamp, cfg.Secret)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(sign)), []byte(expected)) != 1 {
		return nil, unauthorized(ErrSignatureMismatch)
	}
	return &Verified{Body: body}, nil
}

// Sign はリクエストの署名（SHA-256の小文字16進表記）を計算する。
// bodyが空の場合、ボディは署名対象に含めない。
func Sign(params url.Values, body, timestamp, secret string) string {
	sum := sha256.Sum256([]byte(CanonicalString(params, body, timestamp, secret)))
	return hex.EncodeToString(sum[:])
}

// CanonicalString は署名対象の正規化文字列を組み立てる。
// sign（大文字小文字を区別しない）以外のクエリパラメータにbody・timestamp・secretを加え、キーのバイト順で並べて
// key=URLエンコード値（writeFormEncoded）を&で連結する。同名パラメータが複数ある場合は","で連結する。
func CanonicalString(params url.Values, body, timestamp, secret string) string {
	entries := make(map[string]string, len(params)+3)
	for k, vs := range params {
		if strings.EqualFold(k, ParamSign) {
			continue
		}
		entries[k] = strings.Join(vs, ",")
	}
	if body != "" {
		entries[signKeyBody] = body
	}
	entries[signKeyTimestamp] = timestamp
	entries[signKeySecret] = secret

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		writeFormEncoded(&b, entries[k])
	}
	return b.String()
}

// upperHex はパーセントエンコードに使う大文字の16進数字。
const upperHex = "0123456789ABCDEF"

// writeFormEncoded は値をフォーム形式でURLエンコードして書き込む。
// 英数字と -_.!*() はそのまま、空白は+、それ以外のバイトは大文字の%XXにする。
// url.QueryEscapeとは !*() と ~ の扱いが異なる。
func writeFormEncoded(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			b.WriteByte(c)
		case c == '-', c == '_', c == '.', c == '!', c == '*', c == '(', c == ')':
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&0x0f])
		}
	}
}

// checkTimestamp はタイムスタンプが現在時刻からwindow以内の過去であることを検証する。
func checkTimestamp(timestamp string, now time.Time, window time.Duration) error {
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, timestamp)
	}
	requested := time.Unix(sec, 0)
	if requested.After(now) {
		return ErrTimestampInFuture
	}
	if now.Sub(requested) > window {
		return ErrTimestampExpired
	}
	return nil
}

// signsBody はContent-Typeがボディを署名対象とする形式かを返す。
func signsBody(contentType string) bool {
	return strings.Contains(contentType, "application/json") ||
		strings.Contains(contentType, "application/x-www-form-urlencoded")
}

// bufferBody はリクエストボディを読み込み、同じ内容を再度読めるよう差し替える。
func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの読み込みに失敗: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func (cfg SignatureConfig) now() time.Time {
	if cfg.Now != nil {
		return cfg.Now()
	}
	return time.Now()
}

func (cfg SignatureConfig) window() time.Duration {
	if cfg.Window > 0 {
		return cfg.Window
	}
	return DefaultSignatureWindow
}

func (cfg SignatureConfig) maxBodyBytes() int64 {
	if cfg.MaxBodyBytes > 0 {
		return cfg.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}
