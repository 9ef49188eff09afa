package devserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chatline/app/internal/config"
	"chatline/app/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev backend: accept any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the dev backend: the HTTP contract the client core talks
// to, plus the websocket push endpoint.
type Server struct {
	cfg   config.Server
	store Storage
	hub   *Hub
	log   *zap.SugaredLogger
}

// NewServer wires the handlers over storage and the hub.
func NewServer(cfg config.Server, store Storage, hub *Hub, log *zap.SugaredLogger) *Server {
	return &Server{cfg: cfg, store: store, hub: hub, log: log}
}

// Router builds the gin route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/auth/register", s.handleRegister)
	r.POST("/api/auth/login", s.handleLogin)

	authed := r.Group("/", s.requireAuth)
	authed.POST("/api/auth/logout", s.handleLogout)
	authed.GET("/api/user/friends", s.handleListFriends)
	authed.GET("/api/user/friends/requests", s.handleListFriendRequests)
	authed.POST("/api/user/friends/request", s.handleSendFriendRequest)
	authed.POST("/api/user/friends/accept", s.handleAcceptFriendRequest)
	authed.POST("/api/user/friends/reject", s.handleRejectFriendRequest)
	authed.GET("/api/messages/:peerId", s.handleHistory)
	authed.POST("/api/messages/:peerId", s.handleSubmit)

	r.GET("/ws", s.handleWebSocket)
	return r
}

func (s *Server) requireAuth(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token missing"})
		return
	}
	userID, err := s.userIDFromToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token or expired"})
		return
	}
	c.Set("userID", userID)
	c.Next()
}

func currentUserID(c *gin.Context) string {
	return c.GetString("userID")
}

type registerRequest struct {
	FullName string `json:"fullName" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := s.store.FindAccountByEmail(req.Email)
	if err != nil {
		s.fail(c, err)
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.fail(c, err)
		return
	}
	acc := &Account{
		FullName:   req.FullName,
		Email:      req.Email,
		Password:   string(hash),
		ProfilePic: "/avatar.png",
	}
	if err := s.store.CreateAccount(acc); err != nil {
		s.fail(c, err)
		return
	}

	s.respondAuth(c, acc)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, err := s.store.FindAccountByEmail(req.Email)
	if err != nil {
		s.fail(c, err)
		return
	}
	if acc == nil || bcrypt.CompareHashAndPassword([]byte(acc.Password), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	s.respondAuth(c, acc)
}

func (s *Server) respondAuth(c *gin.Context, acc *Account) {
	token, err := s.issueToken(acc.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": acc.AsUser(), "accessToken": token})
}

func (s *Server) handleLogout(c *gin.Context) {
	// Tokens are stateless; logout is client-side. Kept so the client
	// contract has somewhere to call.
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleListFriends(c *gin.Context) {
	friends, err := s.store.ListFriends(currentUserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	users := make([]models.User, 0, len(friends))
	for _, f := range friends {
		users = append(users, f.AsUser())
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) handleListFriendRequests(c *gin.Context) {
	reqs, err := s.store.ListFriendRequests(currentUserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, gin.H{"senderId": r.SenderID, "createdAt": r.CreatedAt})
	}
	c.JSON(http.StatusOK, out)
}

type friendRequestBody struct {
	ReceiverID string `json:"receiverId"`
	SenderID   string `json:"senderId"`
}

func (s *Server) handleSendFriendRequest(c *gin.Context) {
	var body friendRequestBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ReceiverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiverId required"})
		return
	}
	if err := s.store.CreateFriendRequest(currentUserID(c), body.ReceiverID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleAcceptFriendRequest(c *gin.Context) {
	s.resolveFriendRequest(c, true)
}

func (s *Server) handleRejectFriendRequest(c *gin.Context) {
	s.resolveFriendRequest(c, false)
}

func (s *Server) resolveFriendRequest(c *gin.Context, accept bool) {
	var body friendRequestBody
	if err := c.ShouldBindJSON(&body); err != nil || body.SenderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "senderId required"})
		return
	}
	if err := s.store.ResolveFriendRequest(body.SenderID, currentUserID(c), accept); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleHistory(c *gin.Context) {
	peerID := c.Param("peerId")
	records, err := s.store.GetConversation(currentUserID(c), peerID)
	if err != nil {
		s.fail(c, err)
		return
	}
	messages := make([]models.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, rec.AsMessage())
	}
	c.JSON(http.StatusOK, messages)
}

type submitRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text == "" && req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message payload is empty"})
		return
	}

	rec := &MessageRecord{
		SenderID:   currentUserID(c),
		ReceiverID: c.Param("peerId"),
		Text:       req.Text,
		Image:      req.Image,
		Status:     models.StatusDelivered,
	}
	if err := s.store.SaveMessage(rec); err != nil {
		s.fail(c, err)
		return
	}

	msg := rec.AsMessage()
	if err := s.hub.DeliverTo(rec.ReceiverID, msg); err != nil {
		s.log.Warnw("failed to push message", "message", rec.ID, "error", err)
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token missing"})
		return
	}
	userID, err := s.userIDFromToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token or expired"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewWSClient(userID, conn, s.hub, s.log)
	s.hub.RegisterCh <- client
	client.Run()
}

func (s *Server) fail(c *gin.Context, err error) {
	s.log.Errorw("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
