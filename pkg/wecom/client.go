package wecom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/luoliAsyns/Notification/pkg/httpclient"
)

// DefaultBaseURL はWeCom APIの既定のベースURL。
const DefaultBaseURL = "https://qyapi.weixin.qq.com"

// ErrEmptyToken はgettoken APIが空のトークンを返したことを表す。
var ErrEmptyToken = errors.New("wecom: アクセストークンが空です")

// Client はWeCom APIクライアント。
type Client struct {
	http       *httpclient.Client
	corpID     string
	corpSecret string
}

// NewClient は新しいWeCom APIクライアントを生成する。
func NewClient(baseURL, corpID, corpSecret string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:       httpclient.New(baseURL, timeout),
		corpID:     corpID,
		corpSecret: corpSecret,
	}
}

// FetchToken はgettoken APIから新しいアクセストークンとその有効期間を取得する。
// errcodeが0以外、またはトークンが空の場合はエラーを返す。
// 有効期間が返されなかった場合は0を返す。
func (c *Client) FetchToken(ctx context.Context) (string, time.Duration, error) {
	var res tokenResponse
	q := url.Values{
		"corpid":     {c.corpID},
		"corpsecret": {c.corpSecret},
	}
	if err := c.http.GetJSON(ctx, "/cgi-bin/gettoken", q, &res); err != nil {
		return "", 0, fmt.Errorf("アクセストークンの取得に失敗: %w", err)
	}
	if res.ErrCode != 0 {
		return "", 0, fmt.Errorf("アクセストークンの取得に失敗: errcode=%d, errmsg=%s", res.ErrCode, res.ErrMsg)
	}
	if res.AccessToken == "" {
		return "", 0, ErrEmptyToken
	}
	var expiresIn time.Duration
	if res.ExpiresIn > 0 {
		expiresIn = time.Duration(res.ExpiresIn) * time.Second
	}
	return res.AccessToken, expiresIn, nil
}

// SendMessage はアプリケーションメッセージを送信し、レスポンスボディをそのまま返す。
// レスポンス内のerrcodeは解釈しない。2xx以外の場合は*httpclient.StatusErrorを返す。
func (c *Client) SendMessage(ctx context.Context, token string, msg TextMessage) ([]byte, error) {
	body, err := c.http.PostJSONRaw(ctx, "/cgi-bin/message/send", url.Values{"access_token": {token}}, msg)
	if err != nil {
		return body, fmt.Errorf("メッセージ送信に失敗: %w", err)
	}
	return body, nil
}
