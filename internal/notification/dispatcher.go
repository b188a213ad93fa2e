package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/luoliAsyns/Notification/pkg/httpclient"
	"github.com/luoliAsyns/Notification/pkg/tokencache"
	"github.com/luoliAsyns/Notification/pkg/wecom"
)

// DefaultAcquireTimeout は送信枠の取得を待つ時間の既定値。
const DefaultAcquireTimeout = 300 * time.Millisecond

// 送信結果のメッセージ。
const (
	msgSendSuccess      = "send success"
	msgBusy             = "busy now"
	msgTokenUnavailable = "WeComNotify get token fail"
	msgUnexpected       = "unexpected error"
)

// ErrBusy は送信枠を待機時間内に取得できなかったことを表す。
var ErrBusy = errors.New("送信枠を取得できません")

// FailureKind は送信失敗の原因の分類。ログの切り分けに使用する。
type FailureKind string

const (
	// FailureNone は成功を表す。
	FailureNone FailureKind = ""
	// FailureBusy は送信枠の取得待ちがタイムアウトしたことを表す。
	FailureBusy FailureKind = "busy"
	// FailureToken はアクセストークンの取得に失敗したことを表す。
	FailureToken FailureKind = "token"
	// FailureUpstream は上流API呼び出しに失敗したことを表す。
	FailureUpstream FailureKind = "upstream"
	// FailureUnexpected は想定外のエラー（パニック等）を表す。
	FailureUnexpected FailureKind = "unexpected"
)

// NotifyRequest は呼び出し元から受け取る通知内容。
type NotifyRequest struct {
	// MsgType はメッセージ種別。現在は"text"のみ対応する。
	MsgType string `json:"msgType"`
	// Content はメッセージ本文。
	Content string `json:"content"`
	// ToUser は宛先。空の場合は全員宛て。
	ToUser string `json:"toUser"`
}

// Result は1回の送信の結果。
type Result struct {
	// Success は送信が成功したかを示す。
	Success bool
	// Message は人間向けの結果メッセージ。
	Message string
	// Body は上流APIのレスポンスボディ（診断用）。
	Body string
	// Failure は失敗の原因の分類。
	Failure FailureKind
	// Err は失敗の原因となったエラー。呼び出し元には公開しない。
	Err error
}

// TokenSource はアクセストークンを提供する。
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// MessageSender は上流APIへメッセージを送信する。
type MessageSender interface {
	SendMessage(ctx context.Context, token string, msg wecom.TextMessage) ([]byte, error)
}

// DispatcherConfig は送信ディスパッチャの設定。
type DispatcherConfig struct {
	// Concurrency は同時に実行できる送信数の上限。
	Concurrency int
	// AcquireTimeout は送信枠の取得を待つ時間。
	AcquireTimeout time.Duration
	// AgentID はWeComアプリケーションのAgentID。
	AgentID string
	// DuplicateCheckInterval は重複メッセージ抑止の間隔（秒）。
	DuplicateCheckInterval int
}

// Dispatcher は上流への送信の同時実行数を制限し、1リクエストにつき1回送信する。
// 上限を超えた送信は待機時間の経過後にbusyとして拒否し、キューイングしない。
type Dispatcher struct {
	gate           *semaphore.Weighted
	acquireTimeout time.Duration
	tokens         TokenSource
	sender         MessageSender
	agentID        string
	dupInterval    int
	log            zerolog.Logger
}

// NewDispatcher は新しい送信ディスパッチャを生成する。
func NewDispatcher(cfg DispatcherConfig, tokens TokenSource, sender MessageSender, log zerolog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.DuplicateCheckInterval <= 0 {
		cfg.DuplicateCheckInterval = wecom.DefaultDuplicateCheckInterval
	}
	return &Dispatcher{
		gate:           semaphore.NewWeighted(int64(cfg.Concurrency)),
		acquireTimeout: cfg.AcquireTimeout,
		tokens:         tokens,
		sender:         sender,
		agentID:        cfg.AgentID,
		dupInterval:    cfg.DuplicateCheckInterval,
		log:            log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch は通知を上流へ送信する。
// 送信枠はどの経路で終了しても必ず解放する。
func (d *Dispatcher) Dispatch(ctx context.Context, req NotifyRequest) (res Result) {
	log := d.log.With().Str("request_id", httpclient.RequestID(ctx)).Logger()

	acquireCtx, cancel := context.WithTimeout(ctx, d.acquireTimeout)
	err := d.gate.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("failure", string(FailureBusy)).Msg("送信枠の取得待ちがタイムアウト")
		return Result{Message: msgBusy, Failure: FailureBusy, Err: ErrBusy}
	}
	defer d.gate.Release(1)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("failure", string(FailureUnexpected)).Msg("送信中に想定外のエラー")
			res = Result{Message: msgUnexpected, Failure: FailureUnexpected, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if req.ToUser == "" {
		req.ToUser = wecom.ToAll
	}

	token, err := d.tokens.GetToken(ctx)
	if err == nil && token == "" {
		err = tokencache.ErrTokenUnavailable
	}
	if err != nil {
		log.Error().Err(err).Str("failure", string(FailureToken)).Msg("アクセストークンの取得に失敗")
		return Result{Message: msgTokenUnavailable, Failure: FailureToken, Err: err}
	}

	body, err := d.sender.SendMessage(ctx, token, d.buildMessage(req))
	if err != nil {
		log.Error().Err(err).Str("failure", string(FailureUpstream)).Msg("上流へのメッセージ送信に失敗")
		detail := err.Error()
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			detail = string(statusErr.Body)
		}
		return Result{Message: "WeComNotify error: " + detail, Body: string(body), Failure: FailureUpstream, Err: err}
	}

	log.Info().Str("to_user", req.ToUser).Msg("メッセージを送信しました")
	return Result{Success: true, Message: msgSendSuccess, Body: string(body)}
}

// buildMessage は上流APIへ送信するペイロードを組み立てる。
func (d *Dispatcher) buildMessage(req NotifyRequest) wecom.TextMessage {
	return wecom.TextMessage{
		ToUser:                 req.ToUser,
		AgentID:                d.agentID,
		MsgType:                wecom.MsgTypeText,
		Text:                   wecom.TextContent{Content: req.Content},
		DuplicateCheckInterval: d.dupInterval,
	}
}
