package event

import (
	"fmt"
	"strings"
)

// Topic はファンアウト先を表す。"article:<id>" または "user:<id>" の形式をとる。
type Topic string

const (
	articleTopicPrefix = "article:"
	userTopicPrefix    = "user:"
)

// ArticleTopic は記事のコメントストリームを表すトピックを返す。
func ArticleTopic(articleID string) Topic {
	return Topic(articleTopicPrefix + articleID)
}

// UserTopic はユーザー個人の通知チャネルを表すトピックを返す。
func UserTopic(userID string) Topic {
	return Topic(userTopicPrefix + userID)
}

// IsArticle は記事トピックかどうかを返す。
func (t Topic) IsArticle() bool {
	return strings.HasPrefix(string(t), articleTopicPrefix)
}

// IsUser はユーザートピックかどうかを返す。
func (t Topic) IsUser() bool {
	return strings.HasPrefix(string(t), userTopicPrefix)
}

// ID はトピックのプレフィックスを除いた識別子を返す。
func (t Topic) ID() string {
	switch {
	case t.IsArticle():
		return strings.TrimPrefix(string(t), articleTopicPrefix)
	case t.IsUser():
		return strings.TrimPrefix(string(t), userTopicPrefix)
	}
	return ""
}

// ParseTopic は文字列をトピックとして検証する。
func ParseTopic(s string) (Topic, error) {
	t := Topic(s)
	if (!t.IsArticle() && !t.IsUser()) || t.ID() == "" {
		return "", fmt.Errorf("不正なトピックです: %q", s)
	}
	return t, nil
}
