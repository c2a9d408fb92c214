package models

import "time"

// UserProfile represents a user in the system
type UserProfile struct {
	ID          string    `json:"uid"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	PhotoURL    *string   `json:"photo_url,omitempty"`
	PartnerID   *string   `json:"partner_id,omitempty"`
	PartnerCode *string   `json:"partner_code,omitempty"`
	PushToken   *string   `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPartner reports whether the profile is linked to a partner
func (u *UserProfile) HasPartner() bool {
	return u.PartnerID != nil && *u.PartnerID != ""
}

// ConnectionStatus is the lifecycle state of a partner connection
type ConnectionStatus string

const (
	ConnectionPending   ConnectionStatus = "pending"
	ConnectionConnected ConnectionStatus = "connected"
)

// PartnerConnection is an invite created by one user and redeemed by another
type PartnerConnection struct {
	ID          string           `json:"id"`
	Partner1ID  string           `json:"partner1_id"`
	Partner2ID  *string          `json:"partner2_id,omitempty"`
	PartnerCode string           `json:"partner_code"`
	Status      ConnectionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ConnectedAt *time.Time       `json:"connected_at,omitempty"`
}

// ExpiresAt returns the moment a pending code stops being redeemable
func (c *PartnerConnection) ExpiresAt(ttl time.Duration) time.Time {
	return c.CreatedAt.Add(ttl)
}

// CoupleRecord is the single per-feature document shared by a couple
type CoupleRecord struct {
	Feature   string         `json:"feature"`
	UserLow   string         `json:"user_low"`
	UserHigh  string         `json:"user_high"`
	Payload   map[string]any `json:"payload"`
	SetBy     string         `json:"set_by"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PostKind is the type of a feed post
type PostKind string

const (
	PostPhoto PostKind = "photo"
	PostVideo PostKind = "video"
	PostMusic PostKind = "music"
	PostText  PostKind = "text"
)

// Music describes a shared track
type Music struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URL    string `json:"url"`
}

// FeedPost is an entry in the couple's shared activity log
type FeedPost struct {
	ID        string      `json:"id"`
	UserLow   string      `json:"-"`
	UserHigh  string      `json:"-"`
	AuthorID  string      `json:"author_id"`
	Kind      PostKind    `json:"kind"`
	MediaKey  *string     `json:"media_key,omitempty"`
	MediaURL  *string     `json:"media_url,omitempty"`
	Caption   string      `json:"caption"`
	Music     *Music      `json:"music,omitempty"`
	Reactions []*Reaction `json:"reactions"`
	Comments  []*Comment  `json:"comments"`
	CreatedAt time.Time   `json:"created_at"`
}

// Reaction is a single emoji reaction on a post, one per user
type Reaction struct {
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a text reply on a post
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification records the intent to notify a partner
type Notification struct {
	ID           string    `json:"id"`
	FromUserID   string    `json:"fromUserId"`
	ToUserID     string    `json:"toUserId"`
	FromUserName string    `json:"fromUserName"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Read         bool      `json:"read"`
}
