package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/livefeed/pkg/event"
	"github.com/nao1215/livefeed/pkg/middleware"
)

// Realtime はHTTPサーバーが利用するリアルタイム配信の操作。
type Realtime interface {
	http.Handler
	// EmitCommentCreated は記事の参加者へコメント作成を配信する。
	EmitCommentCreated(ctx context.Context, articleID string, comment json.RawMessage) error
	// ConnectionCount はこのインスタンスが保持する接続数を返す。
	ConnectionCount() int
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// JWTSecret はユーザー向けAPIのJWT検証に使うシークレット。
	JWTSecret string
	// ServiceAPIKey は内部APIの呼び出しに必要なキー。
	ServiceAPIKey string
	// CORSOrigins はクロスオリジンを許可するオリジン。
	CORSOrigins []string
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	router   *gin.Engine
	store    Store
	decider  *Decider
	realtime Realtime
	log      zerolog.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(cfg ServerConfig, store Store, decider *Decider, rt Realtime, log zerolog.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	s := &Server{
		router:   router,
		store:    store,
		decider:  decider,
		realtime: rt,
		log:      log,
	}
	s.setupRoutes(cfg)
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(cfg ServerConfig) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "notification",
			"connections": s.realtime.ConnectionCount(),
		})
	})
	s.router.GET("/ws", gin.WrapH(s.realtime))

	api := s.router.Group("/api/v1")

	// 内部API（記事サービスなどのバックエンドから呼び出される）
	internal := api.Group("/internal")
	internal.Use(middleware.ServiceAuth(cfg.ServiceAPIKey))
	{
		internal.POST("/events", s.handleEvent())
		internal.POST("/notifications", s.handleNotify())
	}

	notifications := api.Group("/notifications")
	notifications.Use(middleware.JWTAuth(cfg.JWTSecret))
	{
		notifications.GET("", s.handleList())
		notifications.POST("/read", s.handleMarkRead())
		notifications.PUT("/:id/read", s.handleMarkOneRead())
		notifications.PUT("/read-all", s.handleMarkAllRead())
	}
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// ActorID は通知の原因となった操作を行ったユーザーID。
	ActorID string `json:"actor_id"`
	// Type は通知の種類。
	Type event.Type `json:"type"`
	// Title は通知のタイトル。
	Title string `json:"title,omitempty"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// ArticleID は関連する記事ID。
	ArticleID string `json:"article_id,omitempty"`
	// CommentID は関連するコメントID。
	CommentID string `json:"comment_id,omitempty"`
	// Data は通知種別ごとの追加データ。
	Data json.RawMessage `json:"data,omitempty"`
	// IsRead は既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

func toNotificationResponse(n event.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.RecipientUserID,
		ActorID:   n.ActorID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		ArticleID: n.ArticleID,
		CommentID: n.CommentID,
		Data:      n.Data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
}

// listResponse は通知一覧のJSONレスポンス構造。
type listResponse struct {
	Items       []notificationResponse `json:"items"`
	Total       int64                  `json:"total"`
	Page        int                    `json:"page"`
	PageSize    int                    `json:"page_size"`
	UnreadCount int64                  `json:"unread_count"`
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
// クエリ: page, page_size, is_read
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		params, err := parseListParams(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		params.UserID = userID

		res, err := s.store.List(c.Request.Context(), params)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			s.log.Error().Err(err).Str("user_id", userID).Msg("通知一覧取得エラー")
			return
		}

		items := make([]notificationResponse, 0, len(res.Items))
		for _, n := range res.Items {
			items = append(items, toNotificationResponse(n))
		}
		c.JSON(http.StatusOK, listResponse{
			Items:       items,
			Total:       res.Total,
			Page:        res.Page,
			PageSize:    res.PageSize,
			UnreadCount: res.UnreadCount,
		})
	}
}

func parseListParams(c *gin.Context) (ListParams, error) {
	p := ListParams{Page: 1, PageSize: DefaultPageSize}
	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return p, errors.New("page は1以上の整数で指定してください")
		}
		p.Page = page
	}
	if v := c.Query("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 || size > MaxPageSize {
			return p, fmt.Errorf("page_size は1から%dの整数で指定してください", MaxPageSize)
		}
		p.PageSize = size
	}
	if v := c.Query("is_read"); v != "" {
		isRead, err := strconv.ParseBool(v)
		if err != nil {
			return p, errors.New("is_read は true または false で指定してください")
		}
		p.IsRead = &isRead
	}
	return p, nil
}

// markReadRequest は既読化リクエストのJSON構造。
type markReadRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,max=100"`
}

// handleMarkRead は指定された通知をまとめて既読にするハンドラ。
// 他のユーザーの通知IDは無視する。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req markReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if _, err := s.store.MarkRead(c.Request.Context(), userID, req.IDs); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			s.log.Error().Err(err).Str("user_id", userID).Msg("通知既読処理エラー")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleMarkOneRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkOneRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		n, err := s.store.Get(c.Request.Context(), notificationID)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			s.log.Error().Err(err).Str("notification_id", notificationID).Msg("通知取得エラー")
			return
		}

		if n.RecipientUserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if _, err := s.store.MarkRead(c.Request.Context(), userID, []string{notificationID}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			s.log.Error().Err(err).Str("notification_id", notificationID).Msg("通知既読処理エラー")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if _, err := s.store.MarkAllRead(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			s.log.Error().Err(err).Str("user_id", userID).Msg("全通知既読処理エラー")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// notifyRequest は通知送信リクエストのJSON構造。
type notifyRequest struct {
	RecipientUserID string          `json:"recipient_user_id" binding:"required"`
	ActorID         string          `json:"actor_id" binding:"required"`
	Type            event.Type      `json:"type" binding:"required"`
	Title           string          `json:"title"`
	Message         string          `json:"message" binding:"required"`
	ArticleID       string          `json:"article_id"`
	CommentID       string          `json:"comment_id"`
	Data            json.RawMessage `json:"data"`
}

// handleNotify は通知を保存し、受信者がオンラインであれば即時配信するハンドラ。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		params := event.NotificationParams{
			RecipientUserID: req.RecipientUserID,
			ActorID:         req.ActorID,
			Type:            req.Type,
			Title:           req.Title,
			Message:         req.Message,
			ArticleID:       req.ArticleID,
			CommentID:       req.CommentID,
		}
		if len(req.Data) > 0 {
			params.Data = req.Data
		}

		n, outcome, err := s.decider.Notify(c.Request.Context(), params)
		if errors.Is(err, ErrInvalidNotification) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			s.log.Error().Err(err).Str("recipient", req.RecipientUserID).Msg("通知作成エラー")
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"notification_id": n.ID,
			"outcome":         outcome,
		})
	}
}

// eventRequest は記事サービスから送られるイベントのJSON構造。
type eventRequest struct {
	Type      string          `json:"type" binding:"required"`
	ArticleID string          `json:"article_id"`
	Data      json.RawMessage `json:"data"`
}

// handleEvent は記事サービスのイベントを受け取り、リアルタイム配信するハンドラ。
// 未知のイベント種別は配信せずに受理する。
func (s *Server) handleEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req eventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if event.Type(req.Type) != event.TypeCommentCreated {
			s.log.Debug().Str("type", req.Type).Msg("配信対象外のイベントを受理しました")
			c.JSON(http.StatusOK, gin.H{"message": "イベントを受理しました"})
			return
		}

		if req.ArticleID == "" || len(req.Data) == 0 || !json.Valid(req.Data) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "article_id と data は必須です"})
			return
		}

		// 発行失敗はGatewayがログに記録する。ローカル配信は完了している。
		_ = s.realtime.EmitCommentCreated(c.Request.Context(), req.ArticleID, req.Data)
		c.JSON(http.StatusOK, gin.H{"message": "イベントを配信しました"})
	}
}
