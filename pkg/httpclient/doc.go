// Package httpclient は外部APIとのHTTP通信を行うクライアントを提供する。
//
// ベースURLとタイムアウトを持ち、JSONリクエストの送受信、リクエストIDの伝播、
// 2xx以外のレスポンスのエラー化を共通化する。上流プロバイダーの
// トークン取得やメッセージ送信に使用する。
package httpclient
