// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// ユーザー向けAPIのJWT認証、内部APIのサービスAPIキー認証、
// zerologによるリクエストログとパニックリカバリ、CORS設定を含む。
// WebSocketのアップグレード要求向けに、任意認証のトークン検証も提供する。
package middleware
