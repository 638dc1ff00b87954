package forum

import "time"

// PostType enumerates the supported post bodies.
type PostType string

const (
	// PostTypeText is a plain text/markdown post.
	PostTypeText PostType = "text"
	// PostTypeLink is a post pointing at an external URL.
	PostTypeLink PostType = "link"
	// PostTypeImage is a post backed by an uploaded image.
	PostTypeImage PostType = "image"
)

// NotificationKindReply marks a notification created for a comment or reply.
const NotificationKindReply = "comment_reply"

// User is a registered account. The password hash never leaves the service.
type User struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"column:username;size:255;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Community groups posts under a shared name.
type Community struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;size:50;uniqueIndex;not null" json:"name"`
	CreatorID int64     `gorm:"column:creator_id;not null" json:"creator_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Community) TableName() string {
	return "communities"
}

// Post is a content item. The core never mutates a post after creation.
type Post struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID      int64     `gorm:"column:user_id;not null;index" json:"user_id"`
	CommunityID int64     `gorm:"column:community_id;not null;index" json:"community_id"`
	Title       string    `gorm:"column:title;size:255;not null" json:"title"`
	Content     string    `gorm:"column:content;type:text" json:"content"`
	PostType    PostType  `gorm:"column:post_type;size:10;not null;default:text" json:"post_type"`
	URL         string    `gorm:"column:url;type:text" json:"url,omitempty"`
	ImageURL    string    `gorm:"column:image_url;type:text" json:"image_url,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Comment is a flat reply row. ParentID is nil for top-level comments; a
// non-nil parent must reference an earlier comment on the same post.
type Comment struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PostID    int64     `gorm:"column:post_id;not null;index" json:"post_id"`
	UserID    int64     `gorm:"column:user_id;not null" json:"user_id"`
	ParentID  *int64    `gorm:"column:parent_id;index" json:"parent_id"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Vote is one voter's signed value on a target. CommentID is zero for post
// votes so the uniqueness index holds without NULL semantics getting in the
// way; at most one row exists per (voter, post, comment) triple.
type Vote struct {
	UserID    int64 `gorm:"column:user_id;not null;uniqueIndex:idx_vote_target,priority:1" json:"user_id"`
	PostID    int64 `gorm:"column:post_id;not null;uniqueIndex:idx_vote_target,priority:2" json:"post_id"`
	CommentID int64 `gorm:"column:comment_id;not null;default:0;uniqueIndex:idx_vote_target,priority:3" json:"comment_id"`
	Value     int   `gorm:"column:vote_value;not null" json:"vote_value"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// Notification is the durable record behind a push event. It is created at
// most once per triggering write and never for self-directed actions.
type Notification struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RecipientID int64     `gorm:"column:recipient_id;not null;index" json:"recipient_id"`
	SenderID    int64     `gorm:"column:sender_id;not null" json:"sender_id"`
	PostID      int64     `gorm:"column:post_id;not null" json:"post_id"`
	CommentID   *int64    `gorm:"column:comment_id" json:"comment_id"`
	Kind        string    `gorm:"column:kind;size:50;not null" json:"type"`
	IsRead      bool      `gorm:"column:is_read;not null;default:false" json:"is_read"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}
