package cbstore

import (
	"encoding/json"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/corkboard/corkboard/internal/cbreview"
)

// Document is the board's entire dataset. Backends load and atomically
// replace it as a single unit; there is no finer-grained persistence.
type Document struct {
	Threads        []*Thread                `json:"threads"`
	Attachments    []*AttachmentRequest     `json:"attachments"`
	VerifyRequests []*VerifyRequest         `json:"verifyRequests"`
	VerifiedUsers  map[string]*VerifiedUser `json:"verifiedUsers"`
}

// Thread is a discussion thread. It always contains at least one post (the
// opening one) and carries both engagement shapes: an identity-keyed like
// map and an anonymous view log. A deployment exercises one of the two.
type Thread struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Tags      []string          `json:"tags"`
	CreatorID string            `json:"creatorId"`
	CreatedAt string            `json:"createdAt"`
	UpdatedAt string            `json:"updatedAt"`
	Hidden    bool              `json:"hidden"`
	Posts     []*Post           `json:"posts"`
	Likes     map[string]string `json:"likes"`
	Views     []string          `json:"views"`
}

// Post is a single message in a thread. Its public 1-based number is derived
// from its position at read time and never stored.
type Post struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	Body      string `json:"body"`
}

// FileDesc describes an uploaded file. The payload travels inline as a
// base64 data URL; the board stores no blobs outside the document.
type FileDesc struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	DataURL string `json:"dataUrl"`
}

// AttachmentRequest asks for a file to be attached to a post. It embeds a
// review ticket and the file stays invisible to the public until the ticket
// is approved.
type AttachmentRequest struct {
	ID          string   `json:"id"`
	ThreadID    string   `json:"threadId"`
	PostID      string   `json:"postId"`
	RequesterID string   `json:"requesterId"`
	File        FileDesc `json:"file"`
	cbreview.Ticket
	CreatedAt string `json:"createdAt"`
}

// VerifyRequest asks for an identity to be marked verified, usually with an
// ID document as the payload. Same review lifecycle as attachments, minus
// the thread linkage.
type VerifyRequest struct {
	ID          string   `json:"id"`
	RequesterID string   `json:"requesterId"`
	File        FileDesc `json:"file"`
	cbreview.Ticket
	CreatedAt string `json:"createdAt"`
}

// VerifiedUser records a successful verification.
type VerifiedUser struct {
	VerifiedAt string `json:"verifiedAt"`
	RequestID  string `json:"requestId"`
}

// NewDocument returns the structurally valid empty document. Backends hand
// it out when nothing has been persisted yet.
func NewDocument() *Document {
	return &Document{
		Threads:        []*Thread{},
		Attachments:    []*AttachmentRequest{},
		VerifyRequests: []*VerifyRequest{},
		VerifiedUsers:  map[string]*VerifiedUser{},
	}
}

// Normalize backfills collections that may be absent from documents written
// by older versions of the board, so the rest of the program never guards
// against nil. Optional sections are default-constructed here, on load, not
// conditionally at point of use.
func (d *Document) Normalize() {
	if d.Threads == nil {
		d.Threads = []*Thread{}
	}
	if d.Attachments == nil {
		d.Attachments = []*AttachmentRequest{}
	}
	if d.VerifyRequests == nil {
		d.VerifyRequests = []*VerifyRequest{}
	}
	if d.VerifiedUsers == nil {
		d.VerifiedUsers = map[string]*VerifiedUser{}
	}

	for _, thread := range d.Threads {
		if thread.Tags == nil {
			thread.Tags = []string{}
		}
		if thread.Posts == nil {
			thread.Posts = []*Post{}
		}
		if thread.Likes == nil {
			thread.Likes = map[string]string{}
		}
		if thread.Views == nil {
			thread.Views = []string{}
		}
	}
}

// Clone deep-copies the document through a JSON round trip. It's the same
// codec the document persists through, so a clone is exactly what a reload
// would produce. Stores hand out clones so callers can mutate snapshots
// freely.
func (d *Document) Clone() *Document {
	data, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("error cloning document: %v", err))
	}

	var clone Document
	if err := json.Unmarshal(data, &clone); err != nil {
		panic(fmt.Sprintf("error cloning document: %v", err))
	}

	clone.Normalize()
	return &clone
}

// FindThread returns the thread with the given ID, or nil.
func (d *Document) FindThread(id string) *Thread {
	idx := slices.IndexFunc(d.Threads, func(t *Thread) bool { return t.ID == id })
	if idx == -1 {
		return nil
	}
	return d.Threads[idx]
}

// FindPost returns the post with the given ID, or nil.
func (t *Thread) FindPost(id string) *Post {
	idx := slices.IndexFunc(t.Posts, func(p *Post) bool { return p.ID == id })
	if idx == -1 {
		return nil
	}
	return t.Posts[idx]
}

// FindAttachment returns the attachment request with the given ID, or nil.
func (d *Document) FindAttachment(id string) *AttachmentRequest {
	idx := slices.IndexFunc(d.Attachments, func(a *AttachmentRequest) bool { return a.ID == id })
	if idx == -1 {
		return nil
	}
	return d.Attachments[idx]
}

// FindVerifyRequest returns the verification request with the given ID, or
// nil.
func (d *Document) FindVerifyRequest(id string) *VerifyRequest {
	idx := slices.IndexFunc(d.VerifyRequests, func(v *VerifyRequest) bool { return v.ID == id })
	if idx == -1 {
		return nil
	}
	return d.VerifyRequests[idx]
}

// DeleteThread removes a thread and cascades to every attachment request
// referencing it, keeping the document free of dangling references. Reports
// whether the thread existed.
func (d *Document) DeleteThread(id string) bool {
	idx := slices.IndexFunc(d.Threads, func(t *Thread) bool { return t.ID == id })
	if idx == -1 {
		return false
	}
	d.Threads = slices.Delete(d.Threads, idx, idx+1)

	kept := make([]*AttachmentRequest, 0, len(d.Attachments))
	for _, req := range d.Attachments {
		if req.ThreadID != id {
			kept = append(kept, req)
		}
	}
	d.Attachments = kept

	return true
}

// DeletePost removes a post from its thread and cascades to every attachment
// request referencing it. Reports whether both the thread and the post
// existed.
func (d *Document) DeletePost(threadID, postID string) bool {
	thread := d.FindThread(threadID)
	if thread == nil {
		return false
	}

	idx := slices.IndexFunc(thread.Posts, func(p *Post) bool { return p.ID == postID })
	if idx == -1 {
		return false
	}
	thread.Posts = slices.Delete(thread.Posts, idx, idx+1)

	kept := make([]*AttachmentRequest, 0, len(d.Attachments))
	for _, req := range d.Attachments {
		if req.ThreadID != threadID || req.PostID != postID {
			kept = append(kept, req)
		}
	}
	d.Attachments = kept

	return true
}
