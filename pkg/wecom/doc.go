// Package wecom は企業微信（WeCom）アプリケーションメッセージAPIのクライアントを提供する。
//
// アクセストークンの取得（/cgi-bin/gettoken）と、アプリケーションメッセージの
// 送信（/cgi-bin/message/send）のみを扱う。トークンのキャッシュは
// tokencacheパッケージが担当する。
package wecom
