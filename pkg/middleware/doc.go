// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 共有秘密鍵によるリクエスト署名の検証、リクエストIDの付与とアクセスログ、
// パニックリカバリなど、通知リレーの入口で使用するミドルウェアを含む。
package middleware
