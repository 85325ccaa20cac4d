// Package event はリアルタイム配信で扱うドメインイベントの型を定義する。
//
// コメント作成イベント、通知イベント、配信先トピックの表現を含む。
// 通知サービス、ゲートウェイ、イベントの発行側サービスの間で共有される。
package event
