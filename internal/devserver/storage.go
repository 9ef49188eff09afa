package devserver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"chatline/app/internal/models"
)

const (
	onlineSetKey  = "chatline:online"
	eventsChannel = "chatline:events"
)

// Account is a registered user in the dev backend.
type Account struct {
	ID         string         `gorm:"primaryKey"`
	FullName   string         `gorm:"not null"`
	Email      string         `gorm:"uniqueIndex;not null"`
	Password   string         `gorm:"not null"`
	ProfilePic string
	Friends    pq.StringArray `gorm:"type:text[]"`
	CreatedAt  time.Time
}

// BeforeCreate assigns a UUID when the ID is not set yet.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// AsUser strips the account down to its wire shape.
func (a Account) AsUser() models.User {
	return models.User{
		ID:         a.ID,
		FullName:   a.FullName,
		Email:      a.Email,
		ProfilePic: a.ProfilePic,
		CreatedAt:  a.CreatedAt,
	}
}

// MessageRecord is a persisted 1:1 message.
type MessageRecord struct {
	ID         string `gorm:"primaryKey"`
	SenderID   string `gorm:"not null;index:idx_pair"`
	ReceiverID string `gorm:"not null;index:idx_pair"`
	Text       string
	Image      string
	Status     models.MessageStatus `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

func (m *MessageRecord) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// AsMessage maps the record to its wire shape.
func (m MessageRecord) AsMessage() models.Message {
	return models.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		CreatedAt:  m.CreatedAt,
		Status:     m.Status,
	}
}

// FriendRequest is a pending invitation from Sender to Receiver.
type FriendRequest struct {
	ID         string `gorm:"primaryKey"`
	SenderID   string `gorm:"not null;index"`
	ReceiverID string `gorm:"not null;index"`
	CreatedAt  time.Time
}

func (r *FriendRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// Storage is everything the handlers and the hub need from persistence.
type Storage interface {
	CreateAccount(acc *Account) error
	FindAccountByEmail(email string) (*Account, error)
	FindAccountByID(id string) (*Account, error)
	ListFriends(userID string) ([]Account, error)

	CreateFriendRequest(senderID, receiverID string) error
	ListFriendRequests(receiverID string) ([]FriendRequest, error)
	ResolveFriendRequest(senderID, receiverID string, accept bool) error

	SaveMessage(rec *MessageRecord) error
	GetConversation(userA, userB string) ([]MessageRecord, error)
	MarkMessageRead(messageID string) (*MessageRecord, error)

	SetOnline(userID string) error
	SetOffline(userID string) error
	OnlineUsers() ([]string, error)
	PublishEvent(frame []byte) error
	SubscribeEvents(ctx context.Context) <-chan []byte
}

// Store backs Storage with postgres for records and redis for
// presence and cross-instance event fan-out.
type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
	ctx   context.Context
}

// NewStore wraps existing connections.
func NewStore(db *gorm.DB, rdb *redis.Client) *Store {
	return &Store{DB: db, Redis: rdb, ctx: context.Background()}
}

// Migrate creates the dev schema.
func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(&Account{}, &MessageRecord{}, &FriendRequest{})
}

func (s *Store) CreateAccount(acc *Account) error {
	return s.DB.Create(acc).Error
}

func (s *Store) FindAccountByEmail(email string) (*Account, error) {
	var acc Account
	err := s.DB.Where("email = ?", email).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Store) FindAccountByID(id string) (*Account, error) {
	var acc Account
	err := s.DB.Where("id = ?", id).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListFriends returns the user's friends. An account with no recorded
// friendships sees everyone, which keeps a freshly seeded dev setup
// usable without exchanging requests first.
func (s *Store) ListFriends(userID string) ([]Account, error) {
	acc, err := s.FindAccountByID(userID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, nil
	}

	var friends []Account
	if len(acc.Friends) == 0 {
		err = s.DB.Where("id <> ?", userID).Order("full_name asc").Find(&friends).Error
	} else {
		err = s.DB.Where("id IN ?", []string(acc.Friends)).Order("full_name asc").Find(&friends).Error
	}
	if err != nil {
		return nil, err
	}
	return friends, nil
}

func (s *Store) CreateFriendRequest(senderID, receiverID string) error {
	var existing FriendRequest
	err := s.DB.Where("sender_id = ? AND receiver_id = ?", senderID, receiverID).First(&existing).Error
	if err == nil {
		return nil // already pending
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.DB.Create(&FriendRequest{SenderID: senderID, ReceiverID: receiverID}).Error
}

func (s *Store) ListFriendRequests(receiverID string) ([]FriendRequest, error) {
	var reqs []FriendRequest
	err := s.DB.Where("receiver_id = ?", receiverID).Order("created_at asc").Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// ResolveFriendRequest deletes the pending request and, on accept,
// records the friendship on both accounts.
func (s *Store) ResolveFriendRequest(senderID, receiverID string, accept bool) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("sender_id = ? AND receiver_id = ?", senderID, receiverID).Delete(&FriendRequest{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("no pending request")
		}
		if !accept {
			return nil
		}
		for _, pair := range [][2]string{{senderID, receiverID}, {receiverID, senderID}} {
			var acc Account
			if err := tx.Where("id = ?", pair[0]).First(&acc).Error; err != nil {
				return err
			}
			acc.Friends = appendUnique(acc.Friends, pair[1])
			if err := tx.Save(&acc).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func appendUnique(ids pq.StringArray, id string) pq.StringArray {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func (s *Store) SaveMessage(rec *MessageRecord) error {
	return s.DB.Create(rec).Error
}

func (s *Store) GetConversation(userA, userB string) ([]MessageRecord, error) {
	var records []MessageRecord
	err := s.DB.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkMessageRead advances the record to read. Returns nil for
// unknown ids; already-read records are returned unchanged.
func (s *Store) MarkMessageRead(messageID string) (*MessageRecord, error) {
	var rec MessageRecord
	err := s.DB.Where("id = ?", messageID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Status == models.StatusRead {
		return &rec, nil
	}
	if err := s.DB.Model(&MessageRecord{}).
		Where("id = ?", messageID).
		Update("status", models.StatusRead).Error; err != nil {
		return nil, err
	}
	rec.Status = models.StatusRead
	return &rec, nil
}

func (s *Store) SetOnline(userID string) error {
	return s.Redis.SAdd(s.ctx, onlineSetKey, userID).Err()
}

func (s *Store) SetOffline(userID string) error {
	return s.Redis.SRem(s.ctx, onlineSetKey, userID).Err()
}

func (s *Store) OnlineUsers() ([]string, error) {
	return s.Redis.SMembers(s.ctx, onlineSetKey).Result()
}

// PublishEvent fans a push frame out to every backend instance.
func (s *Store) PublishEvent(frame []byte) error {
	return s.Redis.Publish(s.ctx, eventsChannel, frame).Err()
}

// SubscribeEvents yields the fan-out stream until ctx is done.
func (s *Store) SubscribeEvents(ctx context.Context) <-chan []byte {
	pubsub := s.Redis.Subscribe(ctx, eventsChannel)
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				out <- []byte(msg.Payload)
			}
		}
	}()
	return out
}
