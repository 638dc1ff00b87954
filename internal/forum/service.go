package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrUsernameTaken indicates a registration against an existing username.
	ErrUsernameTaken = errors.New("forum: username already exists")
	// ErrInvalidCredentials indicates a failed username/password login.
	ErrInvalidCredentials = errors.New("forum: invalid credentials")
	// ErrCommunityExists indicates a duplicate community name.
	ErrCommunityExists = errors.New("forum: community name already exists")
	// ErrPostNotFound indicates the referenced post does not exist.
	ErrPostNotFound = errors.New("forum: post not found")
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("forum: user not found")
	// ErrParentNotFound indicates a reply names a parent comment that does
	// not exist on the same post.
	ErrParentNotFound = errors.New("forum: parent comment not found")
	// ErrInvalidVoteValue indicates a vote outside {-1, 0, +1}.
	ErrInvalidVoteValue = errors.New("forum: vote value must be -1, 0 or 1")
	// ErrEmptyBody indicates a post or comment without usable content.
	ErrEmptyBody = errors.New("forum: body must not be empty")
)

// ServiceError carries a stable operation code alongside the wrapped cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the machine-readable operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "forum.service.new"
	opRegisterUser    = "forum.register_user"
	opAuthenticate    = "forum.authenticate"
	opCreateCommunity = "forum.create_community"
	opListCommunities = "forum.list_communities"
	opCreatePost      = "forum.create_post"
	opListPosts       = "forum.list_posts"
	opGetPost         = "forum.get_post"
	opCreateComment   = "forum.create_comment"
	opListComments    = "forum.list_comments"
	opCastVote        = "forum.cast_vote"
	opNotifications   = "forum.list_notifications"
	opMarkRead        = "forum.mark_notifications_read"
	opGetProfile      = "forum.get_profile"
	opSearch          = "forum.search"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Pusher delivers a freshly persisted notification to the recipient's live
// session, if any. Implementations must not block and must not fail the
// caller; a missed push is recovered by the stored record.
type Pusher interface {
	Push(recipientID int64, notification Notification)
}

type noOpPusher struct{}

func (noOpPusher) Push(int64, Notification) {}

// ServiceConfig describes the dependencies of the forum service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Pusher   Pusher
	Logger   *zap.Logger
}

// Service owns all reads and writes against the forum schema, including the
// notification dispatch that rides along with comment creation.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	pusher Pusher
	logger *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	pusher := cfg.Pusher
	if pusher == nil {
		pusher = noOpPusher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, pusher: pusher, logger: logger}, nil
}

// RegisterUser creates an account with the supplied password hash.
func (s *Service) RegisterUser(ctx context.Context, username, passwordHash string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return User{}, newServiceError(opRegisterUser, "missing_fields", ErrInvalidCredentials)
	}

	var existing User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&existing).Error
	if err == nil {
		return User{}, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, newServiceError(opRegisterUser, "lookup_failed", err)
	}

	user := User{Username: username, PasswordHash: passwordHash, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, newServiceError(opRegisterUser, "insert_failed", err)
	}
	return user, nil
}

// UserByUsername fetches an account for credential verification.
func (s *Service) UserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, newServiceError(opAuthenticate, "lookup_failed", err)
	}
	return user, nil
}

// CreateCommunity registers a new community name owned by creatorID.
func (s *Service) CreateCommunity(ctx context.Context, name string, creatorID int64) (Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Community{}, newServiceError(opCreateCommunity, "missing_name", ErrEmptyBody)
	}

	var existing Community
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&existing).Error
	if err == nil {
		return Community{}, ErrCommunityExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Community{}, newServiceError(opCreateCommunity, "lookup_failed", err)
	}

	community := Community{Name: name, CreatorID: creatorID, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&community).Error; err != nil {
		return Community{}, newServiceError(opCreateCommunity, "insert_failed", err)
	}
	return community, nil
}

// ListCommunities returns all communities ordered by name.
func (s *Service) ListCommunities(ctx context.Context) ([]Community, error) {
	var communities []Community
	if err := s.db.WithContext(ctx).Order("name").Find(&communities).Error; err != nil {
		return nil, newServiceError(opListCommunities, "query_failed", err)
	}
	return communities, nil
}

// CreatePostInput carries the fields of a new post.
type CreatePostInput struct {
	AuthorID    int64
	CommunityID int64
	Title       string
	Content     string
	PostType    PostType
	URL         string
	ImageURL    string
}

// CreatePost persists a post with its body sanitized.
func (s *Service) CreatePost(ctx context.Context, input CreatePostInput) (Post, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Post{}, newServiceError(opCreatePost, "missing_title", ErrEmptyBody)
	}
	postType := input.PostType
	if postType == "" {
		postType = PostTypeText
	}

	post := Post{
		UserID:      input.AuthorID,
		CommunityID: input.CommunityID,
		Title:       title,
		Content:     SanitizeBody(input.Content),
		PostType:    postType,
		URL:         input.URL,
		ImageURL:    input.ImageURL,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return Post{}, newServiceError(opCreatePost, "insert_failed", err)
	}
	return post, nil
}

// ListPostsQuery parameterizes a post listing read.
type ListPostsQuery struct {
	Sort          string
	CommunityName string
	Page          int
	CallerID      int64
}

// ListPosts loads the post cohort, recomputes every aggregate from the live
// vote rows, ranks the cohort in the requested mode and returns one page.
func (s *Service) ListPosts(ctx context.Context, query ListPostsQuery) ([]RankedPost, error) {
	mode, err := ParseSortMode(query.Sort)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	postsQuery := db.Model(&Post{})
	if name := strings.TrimSpace(query.CommunityName); name != "" {
		var community Community
		if err := db.Where("name = ?", name).Take(&community).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return []RankedPost{}, nil
			}
			return nil, newServiceError(opListPosts, "community_lookup_failed", err)
		}
		postsQuery = postsQuery.Where("community_id = ?", community.ID)
	}

	var posts []Post
	if err := postsQuery.Find(&posts).Error; err != nil {
		return nil, newServiceError(opListPosts, "query_failed", err)
	}
	if len(posts) == 0 {
		return []RankedPost{}, nil
	}

	ranked, err := s.enrichPosts(ctx, posts, query.CallerID)
	if err != nil {
		return nil, err
	}
	if _, err := Rank(ranked, mode); err != nil {
		return nil, err
	}
	return Paginate(ranked, query.Page), nil
}

// GetPost fetches a single post with its live aggregates.
func (s *Service) GetPost(ctx context.Context, postID, callerID int64) (RankedPost, error) {
	var post Post
	err := s.db.WithContext(ctx).Take(&post, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RankedPost{}, ErrPostNotFound
	}
	if err != nil {
		return RankedPost{}, newServiceError(opGetPost, "query_failed", err)
	}

	ranked, err := s.enrichPosts(ctx, []Post{post}, callerID)
	if err != nil {
		return RankedPost{}, err
	}
	return ranked[0], nil
}

// enrichPosts joins author names, community names, vote aggregates and
// comment counts onto the cohort. Scores are always recomputed from the raw
// vote rows, never read from a cache.
func (s *Service) enrichPosts(ctx context.Context, posts []Post, callerID int64) ([]RankedPost, error) {
	db := s.db.WithContext(ctx)

	postIDs := make([]int64, 0, len(posts))
	userIDs := make([]int64, 0, len(posts))
	communityIDs := make([]int64, 0, len(posts))
	for _, post := range posts {
		postIDs = append(postIDs, post.ID)
		userIDs = append(userIDs, post.UserID)
		communityIDs = append(communityIDs, post.CommunityID)
	}

	var authors []User
	if err := db.Where("id IN ?", userIDs).Find(&authors).Error; err != nil {
		return nil, newServiceError(opListPosts, "author_query_failed", err)
	}
	authorNames := make(map[int64]string, len(authors))
	for _, author := range authors {
		authorNames[author.ID] = author.Username
	}

	var communities []Community
	if err := db.Where("id IN ?", communityIDs).Find(&communities).Error; err != nil {
		return nil, newServiceError(opListPosts, "community_query_failed", err)
	}
	communityNames := make(map[int64]string, len(communities))
	for _, community := range communities {
		communityNames[community.ID] = community.Name
	}

	var votes []Vote
	if err := db.Where("post_id IN ? AND comment_id = 0", postIDs).Find(&votes).Error; err != nil {
		return nil, newServiceError(opListPosts, "vote_query_failed", err)
	}
	votesByPost := make(map[int64][]Vote, len(postIDs))
	callerVotes := make(map[int64]int)
	for _, vote := range votes {
		votesByPost[vote.PostID] = append(votesByPost[vote.PostID], vote)
		if callerID != 0 && vote.UserID == callerID {
			callerVotes[vote.PostID] = vote.Value
		}
	}

	type commentCountRow struct {
		PostID int64
		Count  int64
	}
	var counts []commentCountRow
	err := db.Model(&Comment{}).
		Select("post_id, COUNT(*) AS count").
		Where("post_id IN ?", postIDs).
		Group("post_id").
		Scan(&counts).Error
	if err != nil {
		return nil, newServiceError(opListPosts, "comment_count_failed", err)
	}
	commentCounts := make(map[int64]int64, len(counts))
	for _, row := range counts {
		commentCounts[row.PostID] = row.Count
	}

	ranked := make([]RankedPost, 0, len(posts))
	for _, post := range posts {
		ranked = append(ranked, RankedPost{
			Post:          post,
			Author:        authorNames[post.UserID],
			CommunityName: communityNames[post.CommunityID],
			Score:         NetScore(votesByPost[post.ID]),
			CallerVote:    callerVotes[post.ID],
			CommentCount:  commentCounts[post.ID],
		})
	}
	return ranked, nil
}

// CreateCommentInput carries the fields of a new comment.
type CreateCommentInput struct {
	PostID   int64
	AuthorID int64
	ParentID *int64
	Content  string
}

// CreateComment persists a comment and, in the same transaction, the
// notification it triggers. The recipient is the parent comment's author for
// replies and the post's author for top-level comments; a comment on one's
// own content creates no notification. The push happens only after the
// transaction has committed, so a delivered event always has a durable
// record behind it. A failed notification insert rolls the comment back.
func (s *Service) CreateComment(ctx context.Context, input CreateCommentInput) (Comment, error) {
	content := SanitizeBody(input.Content)
	if strings.TrimSpace(content) == "" {
		return Comment{}, newServiceError(opCreateComment, "missing_content", ErrEmptyBody)
	}

	var comment Comment
	var created *Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post Post
		if err := tx.Take(&post, input.PostID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return newServiceError(opCreateComment, "post_lookup_failed", err)
		}

		recipientID := post.UserID
		if input.ParentID != nil {
			var parent Comment
			err := tx.Where("id = ? AND post_id = ?", *input.ParentID, input.PostID).Take(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrParentNotFound
			}
			if err != nil {
				return newServiceError(opCreateComment, "parent_lookup_failed", err)
			}
			recipientID = parent.UserID
		}

		comment = Comment{
			PostID:    input.PostID,
			UserID:    input.AuthorID,
			ParentID:  input.ParentID,
			Content:   content,
			CreatedAt: s.clock().UTC(),
		}
		if err := tx.Create(&comment).Error; err != nil {
			return newServiceError(opCreateComment, "insert_failed", err)
		}

		if recipientID == input.AuthorID {
			return nil
		}

		notification := Notification{
			RecipientID: recipientID,
			SenderID:    input.AuthorID,
			PostID:      input.PostID,
			CommentID:   &comment.ID,
			Kind:        NotificationKindReply,
			CreatedAt:   s.clock().UTC(),
		}
		if err := tx.Create(&notification).Error; err != nil {
			return newServiceError(opCreateComment, "notification_insert_failed", err)
		}
		created = &notification
		return nil
	})
	if err != nil {
		return Comment{}, err
	}

	if created != nil {
		s.pusher.Push(created.RecipientID, *created)
	}
	return comment, nil
}

// ListComments returns the comment forest for a post.
func (s *Service) ListComments(ctx context.Context, postID int64) ([]*CommentNode, error) {
	var records []CommentRecord
	err := s.db.WithContext(ctx).Model(&Comment{}).
		Select("comments.*, users.username").
		Joins("JOIN users ON users.id = comments.user_id").
		Where("comments.post_id = ?", postID).
		Order("comments.created_at DESC").
		Scan(&records).Error
	if err != nil {
		return nil, newServiceError(opListComments, "query_failed", err)
	}
	return BuildCommentTree(records), nil
}

// CastVote stores voterID's value on a post. A repeated vote replaces the
// prior value through the uniqueness constraint; a zero value deletes the
// row entirely rather than storing a zero.
func (s *Service) CastVote(ctx context.Context, voterID, postID int64, value int) error {
	switch value {
	case 0:
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND post_id = ? AND comment_id = 0", voterID, postID).
			Delete(&Vote{}).Error
		if err != nil {
			return newServiceError(opCastVote, "delete_failed", err)
		}
		return nil
	case -1, 1:
		vote := Vote{UserID: voterID, PostID: postID, Value: value}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "post_id"}, {Name: "comment_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"vote_value": value}),
		}).Create(&vote).Error
		if err != nil {
			return newServiceError(opCastVote, "upsert_failed", err)
		}
		return nil
	default:
		return ErrInvalidVoteValue
	}
}

// NotificationRecord joins a notification with the sender's username.
type NotificationRecord struct {
	Notification
	SenderUsername string `json:"sender_username"`
}

// ListNotifications returns the recipient's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, recipientID int64) ([]NotificationRecord, error) {
	var records []NotificationRecord
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Select("notifications.*, users.username AS sender_username").
		Joins("JOIN users ON users.id = notifications.sender_id").
		Where("notifications.recipient_id = ?", recipientID).
		Order("notifications.created_at DESC").
		Scan(&records).Error
	if err != nil {
		return nil, newServiceError(opNotifications, "query_failed", err)
	}
	return records, nil
}

// MarkNotificationsRead flags every notification for the recipient as read.
func (s *Service) MarkNotificationsRead(ctx context.Context, recipientID int64) error {
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ?", recipientID).
		Update("is_read", true).Error
	if err != nil {
		return newServiceError(opMarkRead, "update_failed", err)
	}
	return nil
}

// Profile is the public view of an account, with karma recomputed from the
// live vote rows on the user's posts and comments.
type Profile struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
	PostKarma    int64     `json:"post_karma"`
	CommentKarma int64     `json:"comment_karma"`
}

// GetProfile resolves a username to its public profile.
func (s *Service) GetProfile(ctx context.Context, username string) (Profile, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrUserNotFound
	}
	if err != nil {
		return Profile{}, newServiceError(opGetProfile, "lookup_failed", err)
	}

	profile := Profile{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt}

	err = s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(v.vote_value), 0) FROM votes v
		 JOIN posts p ON v.post_id = p.id AND v.comment_id = 0
		 WHERE p.user_id = ?`, user.ID).Scan(&profile.PostKarma).Error
	if err != nil {
		return Profile{}, newServiceError(opGetProfile, "post_karma_failed", err)
	}

	err = s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(v.vote_value), 0) FROM votes v
		 JOIN comments c ON v.comment_id = c.id
		 WHERE c.user_id = ?`, user.ID).Scan(&profile.CommentKarma).Error
	if err != nil {
		return Profile{}, newServiceError(opGetProfile, "comment_karma_failed", err)
	}

	return profile, nil
}

// SearchResult is one row of the cross-entity search.
type SearchResult struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Context string `json:"context,omitempty"`
}

const searchLimitPerKind = 5

// Search matches posts by title, communities by name and users by username
// with a case-insensitive substring, at most five rows per kind.
func (s *Service) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	pattern := "%" + query + "%"
	db := s.db.WithContext(ctx)
	results := []SearchResult{}

	type postRow struct {
		ID            int64
		Title         string
		CommunityName string
	}
	var postRows []postRow
	err := db.Model(&Post{}).
		Select("posts.id, posts.title, communities.name AS community_name").
		Joins("JOIN communities ON communities.id = posts.community_id").
		Where("posts.title LIKE ?", pattern).
		Limit(searchLimitPerKind).
		Scan(&postRows).Error
	if err != nil {
		return nil, newServiceError(opSearch, "post_query_failed", err)
	}
	for _, row := range postRows {
		results = append(results, SearchResult{Type: "post", ID: row.ID, Name: row.Title, Context: row.CommunityName})
	}

	var communities []Community
	if err := db.Where("name LIKE ?", pattern).Limit(searchLimitPerKind).Find(&communities).Error; err != nil {
		return nil, newServiceError(opSearch, "community_query_failed", err)
	}
	for _, community := range communities {
		results = append(results, SearchResult{Type: "community", ID: community.ID, Name: community.Name})
	}

	var users []User
	if err := db.Where("username LIKE ?", pattern).Limit(searchLimitPerKind).Find(&users).Error; err != nil {
		return nil, newServiceError(opSearch, "user_query_failed", err)
	}
	for _, user := range users {
		results = append(results, SearchResult{Type: "user", ID: user.ID, Name: user.Username})
	}

	return results, nil
}
