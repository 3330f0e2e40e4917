package cbboard

import (
	"github.com/corkboard/corkboard/internal/cbreview"
	"github.com/corkboard/corkboard/internal/cbstore"
)

// WindowCounts is a thread's engagement counted over each ranking window.
type WindowCounts struct {
	Day   int `json:"day"`
	Week  int `json:"week"`
	Month int `json:"month"`
}

// ThreadSummary is the listing view of a thread.
type ThreadSummary struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Tags       []string     `json:"tags"`
	CreatorID  string       `json:"creatorId"`
	CreatedAt  string       `json:"createdAt"`
	UpdatedAt  string       `json:"updatedAt"`
	Hidden     bool         `json:"hidden"`
	PostCount  int          `json:"postCount"`
	Engagement WindowCounts `json:"engagement"`
}

// AttachmentFile is an approved file shown on a post.
type AttachmentFile struct {
	ID   string           `json:"id"`
	File cbstore.FileDesc `json:"file"`
}

// PostView is a post as rendered in a thread detail. Num is the post's
// 1-based position, derived at read time.
type PostView struct {
	ID        string `json:"id"`
	Num       int    `json:"num"`
	AuthorID  string `json:"authorId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	Body      string `json:"body"`

	// Attachments carries approved files only. PendingAttachments counts the
	// viewer's own not-yet-reviewed requests on this post and is zero for
	// everyone else.
	Attachments        []AttachmentFile `json:"attachments"`
	PendingAttachments int              `json:"pendingAttachments"`
}

// ThreadView is the full detail view of a thread.
type ThreadView struct {
	ThreadSummary
	Posts []*PostView `json:"posts"`
}

// LikeResult reports the outcome of a like.
type LikeResult struct {
	ThreadID     string       `json:"threadId"`
	AlreadyLiked bool         `json:"alreadyLiked"`
	Engagement   WindowCounts `json:"engagement"`
}

// ViewResult reports the outcome of recording a view.
type ViewResult struct {
	ThreadID   string       `json:"threadId"`
	Engagement WindowCounts `json:"engagement"`
}

// RequestView is the caller-facing state of an attachment or verification
// request, file payload included so reviewers can inspect it.
type RequestView struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"threadId,omitempty"`
	PostID      string           `json:"postId,omitempty"`
	RequesterID string           `json:"requesterId"`
	File        cbstore.FileDesc `json:"file"`
	Status      cbreview.Status  `json:"status"`
	ReviewedAt  string           `json:"reviewedAt"`
	Note        string           `json:"note"`
	CreatedAt   string           `json:"createdAt"`
}

// VerifyStatus answers a verification lookup.
type VerifyStatus struct {
	UserID   string `json:"userId"`
	Verified bool   `json:"verified"`
}

func attachmentView(req *cbstore.AttachmentRequest) *RequestView {
	return &RequestView{
		ID:          req.ID,
		ThreadID:    req.ThreadID,
		PostID:      req.PostID,
		RequesterID: req.RequesterID,
		File:        req.File,
		Status:      req.Status,
		ReviewedAt:  req.ReviewedAt,
		Note:        req.Note,
		CreatedAt:   req.CreatedAt,
	}
}

func verifyRequestView(req *cbstore.VerifyRequest) *RequestView {
	return &RequestView{
		ID:          req.ID,
		RequesterID: req.RequesterID,
		File:        req.File,
		Status:      req.Status,
		ReviewedAt:  req.ReviewedAt,
		Note:        req.Note,
		CreatedAt:   req.CreatedAt,
	}
}
