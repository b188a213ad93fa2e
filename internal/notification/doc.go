// Package notification は通知リレーサービスの内部実装を提供する。
//
// 署名付きのHTTPリクエストで受け取ったテキストメッセージを、
// WeComのアプリケーションメッセージAPIへ転送する。上流のアクセストークンの
// 取得とキャッシュ、送信の同時実行数の制限、結果の共通レスポンスへの変換を担当する。
package notification
