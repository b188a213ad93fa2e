// Package kvstore はTTL付きのキー・バリューストアを提供する。
//
// アクセストークンのような短命な値をプロセス外に保持するために使用する。
// Redis（本番の共有キャッシュ）とSQLite（単一インスタンス向け）の2種類の
// バックエンドを同じインターフェースで扱える。
package kvstore
