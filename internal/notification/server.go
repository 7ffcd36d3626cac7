package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nao1215/campushub/internal/config"
	notificationdb "github.com/nao1215/campushub/internal/notification/db"
	"github.com/nao1215/campushub/pkg/event"
	"github.com/nao1215/campushub/pkg/httpclient"
	"github.com/nao1215/campushub/pkg/middleware"
	"github.com/nao1215/campushub/pkg/realtime"
	_ "modernc.org/sqlite"
)

const (
	// defaultListLimit は通知一覧の既定の取得件数。
	defaultListLimit = 50
	// maxListLimit は通知一覧で指定できる最大件数。
	maxListLimit = 100
	// breakerTimeout はディレクトリのサーキットブレーカーが開いている時間。
	breakerTimeout = 10 * time.Second
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はGracefulShutdownに使うHTTPサーバー。
	httpServer *http.Server
	// cfg はサービス設定。
	cfg *config.Config
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store は通知レコードの永続化層。
	store *Store
	// users は内部APIから同期されるローカルのユーザーディレクトリ。
	users *SQLiteDirectory
	// notifier は宛先解決・保存・配信の窓口。
	notifier *Notifier
	// dispatcher はドメインイベントを非同期に処理する。
	dispatcher *Dispatcher
	// inbox は受信済みドメインイベントの記録。
	inbox *Inbox
	// intake はドメインイベントを重複排除してdispatcherに渡す。
	intake *Intake
	// relay はイベントフィードをポーリングする。EVENT_FEED_URL未設定の場合はnil。
	relay *Relay
	// registry は接続中のWebSocketのグループ管理。
	registry *realtime.Registry
	// upgrader はWebSocketへのアップグレードを行う。
	upgrader *websocket.Upgrader
	// sessionCfg はWebSocketセッションの送受信設定。
	sessionCfg realtime.SessionConfig
	// closers はShutdown時に閉じる外部リソース。
	closers []func(context.Context) error
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化とマイグレーション、ユーザーディレクトリの接続を行う。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DatabasePath)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	directory, closer, err := newDirectory(ctx, cfg, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s := newServer(sqlDB, directory, cfg)
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	return s, nil
}

// newDirectory は設定に応じたユーザーディレクトリを生成する。
// 外部のディレクトリはサーキットブレーカーで包む。
func newDirectory(ctx context.Context, cfg *config.Config, sqlDB *sql.DB) (Directory, func(context.Context) error, error) {
	switch cfg.DirectoryBackend {
	case config.DirectoryHTTP:
		client := httpclient.New(cfg.AccountsURL,
			httpclient.WithToken(cfg.InternalToken),
			httpclient.WithTimeout(5*time.Second),
		)
		log.Printf("[Directory] アカウントサービスを参照します: %s", cfg.AccountsURL)
		return NewBreakerDirectory("accounts-directory", NewHTTPDirectory(client), breakerTimeout), nil, nil
	case config.DirectoryMongo:
		mongoDir, err := NewMongoDirectory(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("ユーザーミラーの初期化に失敗: %w", err)
		}
		log.Printf("[Directory] ユーザーミラーを参照します: db=%s", cfg.MongoDatabase)
		return NewBreakerDirectory("mongo-directory", mongoDir, breakerTimeout), mongoDir.Close, nil
	default:
		return NewSQLiteDirectory(sqlDB), nil, nil
	}
}

// newServer は依存関係を組み立ててルーティングを設定する。
// ディスパッチャーのワーカーとイベントフィードのポーリングもここで起動する。
func newServer(sqlDB *sql.DB, directory Directory, cfg *config.Config) *Server {
	registry := realtime.NewRegistry()
	store := NewStore(sqlDB)
	notifier := NewNotifier(NewResolver(directory), store, registry)

	sessionCfg := realtime.DefaultSessionConfig()
	sessionCfg.QueueSize = cfg.PushQueueSize
	sessionCfg.WriteTimeout = cfg.PushWriteTimeout
	sessionCfg.MessagesPerSecond = cfg.WSMessagesPerSecond

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	dispatcher := NewDispatcher(notifier, cfg.DispatchQueueSize, cfg.DispatchWorkers)
	inbox := NewInbox(sqlDB)

	s := &Server{
		router:     router,
		cfg:        cfg,
		db:         sqlDB,
		store:      store,
		users:      NewSQLiteDirectory(sqlDB),
		notifier:   notifier,
		dispatcher: dispatcher,
		inbox:      inbox,
		intake:     NewIntake(inbox, dispatcher),
		registry:   registry,
		upgrader:   realtime.NewUpgrader(cfg.AllowedOrigins),
		sessionCfg: sessionCfg,
	}
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	s.dispatcher.Start(context.Background())

	if cfg.EventFeedURL != "" {
		client := httpclient.New(cfg.EventFeedURL,
			httpclient.WithToken(cfg.InternalToken),
			httpclient.WithTimeout(5*time.Second),
		)
		// 起動以前のイベントは取り込まない
		s.relay = NewRelay(client, s.intake, cfg.EventFeedInterval, time.Now().UTC())
		s.relay.Start(context.Background())
	}

	return s
}

// Notifier はドメイン処理から直接呼び出すための通知窓口を返す。
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

// Run はHTTPサーバーを起動する。Shutdownで停止した場合はnilを返す。
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown は新規リクエストの受付を止め、キューに残った通知を処理してから
// 全WebSocket接続を閉じ、外部リソースを解放する。
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTPサーバーの停止に失敗: %w", err))
	}
	if s.relay != nil {
		s.relay.Stop()
	}
	s.dispatcher.Stop()
	s.registry.Close()
	for _, closeFn := range s.closers {
		if err := closeFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("データベースのクローズに失敗: %w", err))
	}
	return errors.Join(errs...)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		notifications := api.Group("/notifications")
		notifications.Use(middleware.JWTAuth(s.cfg.JWTSecret))
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 未読通知数取得
			notifications.GET("/unread/count", s.handleUnreadCount())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// 内部API（ドメインサービスから呼び出される）
		internal := api.Group("/internal")
		internal.Use(middleware.InternalAuth(s.cfg.InternalToken))
		{
			internal.POST("/notify", s.handleNotify())
			internal.POST("/events", s.handleEvent())
			internal.GET("/events/aggregate/:aggregate_id", s.handleListReceivedEvents())
			internal.PUT("/users/:id", s.handleUpsertUser())
		}
	}

	// リアルタイム通知（トークンはクエリパラメータでも受け付ける）
	s.router.GET("/ws/notifications", middleware.JWTAuth(s.cfg.JWTSecret), s.handleWebSocket())

	if s.cfg.DevTokenEnabled {
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "notification",
			"connections": s.registry.Count(realtime.GroupCampus),
		})
	})
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Type は通知の種類。
	Type string `json:"type"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Link は遷移先リンク。ない場合はnull。
	Link *string `json:"link"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponse はDB行をJSONレスポンスに変換する。
func toNotificationResponse(n notificationdb.Notification) notificationResponse {
	var link *string
	if n.Link.Valid {
		link = &n.Link.String
	}
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Link:      link,
		IsRead:    n.IsRead != 0,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// toNotificationResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []notificationdb.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// parsePage はlimitとoffsetのクエリパラメータを解釈する。
func parsePage(c *gin.Context) (limit, offset int64, err error) {
	limit = defaultListLimit
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.ParseInt(v, 10, 64)
		if err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("limitは1以上の整数で指定してください")
		}
		limit = min(limit, maxListLimit)
	}
	if v := c.Query("offset"); v != "" {
		offset, err = strconv.ParseInt(v, 10, 64)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offsetは0以上の整数で指定してください")
		}
	}
	return limit, offset, nil
}

// handleList は認証済みユーザーの通知一覧を新しい順に返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		limit, offset, err := parsePage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		notifications, err := s.store.List(c.Request.Context(), userID, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.store.ListUnread(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			log.Printf("未読通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleUnreadCount は認証済みユーザーの未読通知数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.store.CountUnread(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知数の取得に失敗しました"})
			log.Printf("未読通知数取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 既読の通知に対しても成功を返す。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		n, err := s.store.MarkRead(c.Request.Context(), c.Param("id"), userID)
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		case errors.Is(err, ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponse(n))
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		updated, err := s.store.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": updated})
	}
}

// notifyRequest は通知依頼のJSON構造。
type notifyRequest struct {
	// Audience は宛先指定。
	Audience Audience `json:"audience"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// Type は通知の種類。省略時はgeneral。
	Type Category `json:"type"`
	// Link は遷移先リンク。
	Link string `json:"link"`
	// ExcludeUserID は宛先から除外するユーザー。
	ExcludeUserID string `json:"exclude_user_id"`
	// Recipients はGROUP指定で通知を保存する宛先。
	Recipients []string `json:"recipients"`
}

// handleNotify は通知依頼を同期的に処理し、保存件数を返すハンドラ。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		in := Intent{
			Audience: req.Audience,
			Content:  Content{Type: req.Type, Title: req.Title, Message: req.Message, Link: req.Link},
			Exclude:  req.ExcludeUserID,
		}
		if len(req.Recipients) > 0 {
			in.Audience.Members = append(in.Audience.Members, req.Recipients...)
		}

		created, err := s.notifier.Notify(c.Request.Context(), in)
		switch {
		case errors.Is(err, ErrUnknownAudience), errors.Is(err, ErrInvalidContent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の保存に失敗しました", "created": created})
			log.Printf("通知依頼の処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"created": created})
	}
}

// handleEvent はドメインイベントを受け取り、通知依頼としてキューに積むハンドラ。
// 処理の完了は待たずに202を返す。受付済みのイベントは何もせず200を返す。
func (s *Server) handleEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev event.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		res, err := s.intake.Accept(c.Request.Context(), &ev)
		switch {
		case errors.Is(err, ErrUnsupportedEvent), errors.Is(err, ErrMalformedEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrQueueFull), errors.Is(err, ErrDispatcherStopped):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "通知キューが混雑しています", "queued": res.Queued})
			log.Printf("イベント %s の投入に失敗: %v", res.EventID, err)
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの受付に失敗しました"})
			log.Printf("イベント %s の受付エラー: %v", res.EventID, err)
			return
		}

		if res.Duplicate {
			c.JSON(http.StatusOK, res)
			return
		}
		c.JSON(http.StatusAccepted, res)
	}
}

// receivedEventResponse は受信イベントのJSONレスポンス構造。
type receivedEventResponse struct {
	// ID はイベントの一意識別子。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType string `json:"event_type"`
	// ActorID はイベントを引き起こしたユーザーのID。
	ActorID string `json:"actor_id"`
	// Data はイベント固有のデータ。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントの作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// ReceivedAt はイベントの受信日時（RFC3339形式）。
	ReceivedAt string `json:"received_at"`
}

// handleListReceivedEvents は対象エンティティについて受信したイベントを古い順に返すハンドラ。
func (s *Server) handleListReceivedEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.inbox.ListByAggregate(c.Request.Context(), c.Param("aggregate_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "受信イベント一覧の取得に失敗しました"})
			log.Printf("受信イベント一覧取得エラー: %v", err)
			return
		}

		responses := make([]receivedEventResponse, 0, len(events))
		for _, ev := range events {
			data := json.RawMessage(ev.Data)
			if len(data) == 0 {
				data = json.RawMessage("null")
			}
			responses = append(responses, receivedEventResponse{
				ID:            ev.ID,
				AggregateID:   ev.AggregateID,
				AggregateType: ev.AggregateType,
				EventType:     ev.EventType,
				ActorID:       ev.ActorID,
				Data:          data,
				CreatedAt:     ev.CreatedAt.UTC().Format(time.RFC3339Nano),
				ReceivedAt:    ev.ReceivedAt.UTC().Format(time.RFC3339Nano),
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

// upsertUserRequest はユーザー同期リクエストのJSON構造。
type upsertUserRequest struct {
	// Email はメールアドレス。
	Email string `json:"email"`
	// Role はロール。
	Role string `json:"role" binding:"required"`
	// IsActive はアカウントが有効かどうか。省略時は有効。
	IsActive *bool `json:"is_active"`
}

// handleUpsertUser はアカウントサービスのユーザー変更をローカルのディレクトリに反映するハンドラ。
func (s *Server) handleUpsertUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req upsertUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !validRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ロール %q は定義されていません", req.Role)})
			return
		}

		u := DirectoryUser{ID: c.Param("id"), Email: req.Email, Role: req.Role, IsActive: true}
		if req.IsActive != nil {
			u.IsActive = *req.IsActive
		}
		if err := s.users.Upsert(c.Request.Context(), u); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの同期に失敗しました"})
			log.Printf("ユーザー同期エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, u)
	}
}

// handleWebSocket は認証済みの接続をWebSocketにアップグレードし、切断までセッションを維持する。
// 未認証の場合はJWTミドルウェアがアップグレード前に401を返すため、ここには到達しない。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// アップグレード失敗時のレスポンスはUpgraderが書き込む
			log.Printf("[Realtime] WebSocketへのアップグレードに失敗: user=%s: %v", userID, err)
			return
		}

		session := realtime.NewSession(conn, s.registry, userID, middleware.GetRole(c), s.sessionCfg)
		if err := session.Open(); err != nil {
			log.Printf("[Realtime] セッションを開けません: user=%s: %v", userID, err)
			return
		}
		session.Run(c.Request.Context())
	}
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。全項目省略可。
type devTokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 発行したユーザーはローカルのディレクトリに有効ユーザーとして登録する。
// DEV_TOKEN_ENABLED が有効な場合のみルーティングされる。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := devTokenRequest{UserID: "dev-user", Email: "dev@localhost", Role: RoleStudent}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
				return
			}
		}
		if req.UserID == "" {
			req.UserID = "dev-user"
		}
		if req.Role == "" {
			req.Role = RoleStudent
		}
		if !validRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ロール %q は定義されていません", req.Role)})
			return
		}

		if err := s.users.Upsert(c.Request.Context(), DirectoryUser{
			ID: req.UserID, Email: req.Email, Role: req.Role, IsActive: true,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "開発ユーザーの登録に失敗しました"})
			log.Printf("開発ユーザー登録エラー: %v", err)
			return
		}

		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, req.UserID, req.Email, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの生成に失敗しました"})
			log.Printf("トークン生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "user_id": req.UserID, "role": req.Role})
	}
}
