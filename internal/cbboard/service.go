// Package cbboard implements the board service: thread and post lifecycle,
// tag curation, engagement recording, and the moderated attachment and
// identity verification workflows, composed over a document store.
package cbboard

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/cbreview"
	"github.com/corkboard/corkboard/internal/cbstore"
	"github.com/corkboard/corkboard/internal/cbtoken"
	"github.com/corkboard/corkboard/internal/cbwindow"
	"github.com/corkboard/corkboard/internal/util/stringutil"
	"github.com/corkboard/corkboard/internal/util/timeutil"
)

// Service is the board's domain layer. Every mutating operation runs a
// load-mutate-save sequence over the whole document under a single service
// mutex, which removes the lost-update race between concurrent requests
// without changing what any single request observes. All work is
// synchronous; nothing here runs in the background.
type Service struct {
	logger *logrus.Logger
	name   string
	store  cbstore.DocumentStore
	tokens *cbtoken.Authority

	// Serializes load-mutate-save. Pure reads work on store snapshots and
	// don't take it.
	mut sync.Mutex

	// When set, attachment submissions are refused until the requester's
	// identity has been verified.
	requireVerification bool

	// Injectable for testing.
	newID   func() string
	timeNow func() time.Time
}

func NewService(logger *logrus.Logger, store cbstore.DocumentStore, tokens *cbtoken.Authority, requireVerification bool) *Service { //nolint:lll
	return &Service{
		logger:              logger,
		name:                reflect.TypeOf(Service{}).Name(),
		newID:               uuid.NewString,
		requireVerification: requireVerification,
		store:               store,
		timeNow:             time.Now,
		tokens:              tokens,
	}
}

// Login exchanges the shared admin password for a bearer token.
func (s *Service) Login(password string) (string, error) {
	return s.tokens.Login(password) //nolint:wrapcheck
}

// VerifyToken checks an admin bearer token.
func (s *Service) VerifyToken(token string) error {
	return s.tokens.Verify(token) //nolint:wrapcheck
}

// Sort orders thread listings. It's a closed set; unknown keys are rejected
// when parsed at the boundary.
type Sort uint8

const (
	// SortUpdated is the default: most recently active thread first.
	SortUpdated Sort = iota

	// SortDay, SortWeek and SortMonth rank by engagement counted within the
	// window, most engaged first, ties broken by update recency.
	SortDay
	SortWeek
	SortMonth
)

// ParseSort parses a listing sort key sent over the wire. The empty string
// means the default ordering.
func ParseSort(s string) (Sort, error) {
	switch s {
	case "", "updated":
		return SortUpdated, nil
	case "day":
		return SortDay, nil
	case "week":
		return SortWeek, nil
	case "month":
		return SortMonth, nil
	}
	return 0, validationErrorf("unknown sort key %q", s)
}

func (s Sort) engagementOf(counts WindowCounts) int {
	switch s {
	case SortDay:
		return counts.Day
	case SortWeek:
		return counts.Week
	case SortMonth:
		return counts.Month
	case SortUpdated:
	}
	return 0
}

// CreateThreadParams are the inputs to CreateThread.
type CreateThreadParams struct {
	CreatorID string
	Title     string
	Tags      []string
	Body      string
}

// CreateThread starts a new thread containing exactly its opening post.
// Title and tags are normalized (trimmed, truncated, de-duplicated); an
// empty title gets a placeholder. The body is required and length-capped.
func (s *Service) CreateThread(ctx context.Context, params *CreateThreadParams) (*ThreadView, error) {
	if err := requireIdentity(params.CreatorID, "creator id"); err != nil {
		return nil, err
	}
	body, err := normalizeBody(params.Body)
	if err != nil {
		return nil, err
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	now := s.timeNow()
	stamp := timeutil.Stamp(now)

	thread := &cbstore.Thread{
		ID:        s.newID(),
		Title:     normalizeTitle(params.Title),
		Tags:      normalizeTags(params.Tags),
		CreatorID: params.CreatorID,
		CreatedAt: stamp,
		UpdatedAt: stamp,
		Posts: []*cbstore.Post{{
			ID:        s.newID(),
			AuthorID:  params.CreatorID,
			CreatedAt: stamp,
			UpdatedAt: stamp,
			Body:      body,
		}},
		Likes: map[string]string{},
		Views: []string{},
	}
	doc.Threads = append(doc.Threads, thread)

	s.persist(ctx, doc)
	return s.threadView(doc, thread, params.CreatorID, now), nil
}

// AddPostParams are the inputs to AddPost.
type AddPostParams struct {
	AuthorID string
	Body     string
}

// AddPost appends a reply to a thread and bumps the thread's update stamp.
func (s *Service) AddPost(ctx context.Context, threadID string, params *AddPostParams) (*ThreadView, error) {
	if err := requireIdentity(params.AuthorID, "author id"); err != nil {
		return nil, err
	}
	body, err := normalizeBody(params.Body)
	if err != nil {
		return nil, err
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	thread := publicThread(doc, threadID)
	if thread == nil {
		return nil, &ThreadNotFoundError{ID: threadID}
	}

	now := s.timeNow()
	stamp := timeutil.Stamp(now)

	thread.Posts = append(thread.Posts, &cbstore.Post{
		ID:        s.newID(),
		AuthorID:  params.AuthorID,
		CreatedAt: stamp,
		UpdatedAt: stamp,
		Body:      body,
	})
	thread.UpdatedAt = stamp

	s.persist(ctx, doc)
	return s.threadView(doc, thread, params.AuthorID, now), nil
}

// MergeTags unions new tags into a thread's existing set: existing order is
// preserved, new tags are appended, duplicates are dropped, and the usual
// caps apply. Merging counts as activity and bumps the update stamp.
func (s *Service) MergeTags(ctx context.Context, threadID string, tags []string) (*ThreadView, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	thread := publicThread(doc, threadID)
	if thread == nil {
		return nil, &ThreadNotFoundError{ID: threadID}
	}

	now := s.timeNow()
	merged := make([]string, 0, len(thread.Tags)+len(tags))
	merged = append(merged, thread.Tags...)
	merged = append(merged, tags...)
	thread.Tags = normalizeTags(merged)
	thread.UpdatedAt = timeutil.Stamp(now)

	s.persist(ctx, doc)
	return s.threadView(doc, thread, "", now), nil
}

// Like records an identity's like on a thread. Likes are idempotent inside
// the retention horizon: a repeat reports alreadyLiked and changes nothing.
// A fresh like counts as activity and bumps the update stamp.
func (s *Service) Like(ctx context.Context, threadID, userID string) (*LikeResult, error) {
	if err := requireIdentity(userID, "user id"); err != nil {
		return nil, err
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	thread := publicThread(doc, threadID)
	if thread == nil {
		return nil, &ThreadNotFoundError{ID: threadID}
	}

	now := s.timeNow()
	pruneEngagement(thread, now)

	alreadyLiked := cbwindow.Mark(thread.Likes, userID, now)
	if !alreadyLiked {
		thread.UpdatedAt = timeutil.Stamp(now)
	}

	s.persist(ctx, doc)
	return &LikeResult{
		ThreadID:     thread.ID,
		AlreadyLiked: alreadyLiked,
		Engagement:   engagementCounts(thread, now),
	}, nil
}

// RecordView logs an anonymous view of a thread. Views count toward the
// engagement windows but don't bump the update stamp; reading isn't
// activity.
func (s *Service) RecordView(ctx context.Context, threadID string) (*ViewResult, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	thread := publicThread(doc, threadID)
	if thread == nil {
		return nil, &ThreadNotFoundError{ID: threadID}
	}

	now := s.timeNow()
	pruneEngagement(thread, now)
	thread.Views = append(thread.Views, timeutil.Stamp(now))

	s.persist(ctx, doc)
	return &ViewResult{
		ThreadID:   thread.ID,
		Engagement: engagementCounts(thread, now),
	}, nil
}

// ListThreads returns the public thread listing, hidden threads excluded.
func (s *Service) ListThreads(ctx context.Context, sort Sort) ([]*ThreadSummary, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	return s.listThreads(doc, sort, false), nil
}

// GetThread returns a thread's detail view. Posts are numbered by position;
// each carries its approved attachments plus, when viewerID is set, the
// count of the viewer's own still-pending attachment requests.
func (s *Service) GetThread(ctx context.Context, threadID, viewerID string) (*ThreadView, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	thread := publicThread(doc, threadID)
	if thread == nil {
		return nil, &ThreadNotFoundError{ID: threadID}
	}

	now := s.timeNow()
	pruneEngagement(thread, now)
	return s.threadView(doc, thread, viewerID, now), nil
}

// SubmitAttachmentParams are the inputs to SubmitAttachment.
type SubmitAttachmentParams struct {
	ThreadID    string
	PostID      string
	RequesterID string
	File        cbstore.FileDesc
}

// SubmitAttachment files a pending attachment request against a post. The
// file must be an allowed media type delivered as an inline data URL; when
// the board gates attachments on verification, the requester must already
// be verified.
func (s *Service) SubmitAttachment(ctx context.Context, params *SubmitAttachmentParams) (*RequestView, error) {
	if err := requireIdentity(params.RequesterID, "requester id"); err != nil {
		return nil, err
	}
	if err := validateFile(params.File, attachmentMIMEClasses); err != nil {
		return nil, err
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	if s.requireVerification && !isVerified(doc, params.RequesterID) {
		return nil, ErrNotVerified
	}

	thread := publicThread(doc, params.ThreadID)
	if thread == nil {
		return nil, &ThreadNotFoundError{ID: params.ThreadID}
	}
	post := thread.FindPost(params.PostID)
	if post == nil {
		return nil, &PostNotFoundError{ThreadID: params.ThreadID, ID: params.PostID}
	}

	req := &cbstore.AttachmentRequest{
		ID:          s.newID(),
		ThreadID:    thread.ID,
		PostID:      post.ID,
		RequesterID: params.RequesterID,
		File:        params.File,
		Ticket:      cbreview.NewTicket(),
		CreatedAt:   timeutil.Stamp(s.timeNow()),
	}
	doc.Attachments = append(doc.Attachments, req)

	s.persist(ctx, doc)
	return attachmentView(req), nil
}

// SubmitVerifyParams are the inputs to SubmitVerifyRequest.
type SubmitVerifyParams struct {
	RequesterID string
	File        cbstore.FileDesc
}

// SubmitVerifyRequest files a pending identity verification request. An
// identity can't file one while already verified or while another of its
// requests is still pending.
func (s *Service) SubmitVerifyRequest(ctx context.Context, params *SubmitVerifyParams) (*RequestView, error) {
	if err := requireIdentity(params.RequesterID, "requester id"); err != nil {
		return nil, err
	}
	if err := validateFile(params.File, verifyMIMEClasses); err != nil {
		return nil, err
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	if isVerified(doc, params.RequesterID) {
		return nil, &ValidationError{Message: "requester is already verified"}
	}
	for _, req := range doc.VerifyRequests {
		if req.RequesterID == params.RequesterID && !req.Reviewed() {
			return nil, &ValidationError{Message: "requester already has a pending verification request"}
		}
	}

	req := &cbstore.VerifyRequest{
		ID:          s.newID(),
		RequesterID: params.RequesterID,
		File:        params.File,
		Ticket:      cbreview.NewTicket(),
		CreatedAt:   timeutil.Stamp(s.timeNow()),
	}
	doc.VerifyRequests = append(doc.VerifyRequests, req)

	s.persist(ctx, doc)
	return verifyRequestView(req), nil
}

// VerificationStatus reports whether an identity has been verified.
func (s *Service) VerificationStatus(ctx context.Context, userID string) (*VerifyStatus, error) {
	if err := requireIdentity(userID, "user id"); err != nil {
		return nil, err
	}

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	return &VerifyStatus{UserID: userID, Verified: isVerified(doc, userID)}, nil
}

// persist saves the document, logging instead of failing when persistence
// breaks: the mutation already succeeded in memory, and rolling it back
// would be worse than serving the new state until the next successful save.
func (s *Service) persist(ctx context.Context, doc *cbstore.Document) {
	if err := s.store.Save(ctx, doc); err != nil {
		s.logger.Errorf(s.name+": Error persisting document (in-memory result stays visible): %v", err)
	}
}

func (s *Service) listThreads(doc *cbstore.Document, sort Sort, includeHidden bool) []*ThreadSummary {
	now := s.timeNow()

	summaries := make([]*ThreadSummary, 0, len(doc.Threads))
	for _, thread := range doc.Threads {
		if thread.Hidden && !includeHidden {
			continue
		}
		pruneEngagement(thread, now)
		summaries = append(summaries, s.threadSummary(thread, now))
	}

	slices.SortStableFunc(summaries, func(a, b *ThreadSummary) bool {
		if ea, eb := sort.engagementOf(a.Engagement), sort.engagementOf(b.Engagement); ea != eb {
			return ea > eb
		}
		return updatedAfter(a, b)
	})

	return summaries
}

func (s *Service) threadSummary(thread *cbstore.Thread, now time.Time) *ThreadSummary {
	return &ThreadSummary{
		ID:         thread.ID,
		Title:      thread.Title,
		Tags:       thread.Tags,
		CreatorID:  thread.CreatorID,
		CreatedAt:  thread.CreatedAt,
		UpdatedAt:  thread.UpdatedAt,
		Hidden:     thread.Hidden,
		PostCount:  len(thread.Posts),
		Engagement: engagementCounts(thread, now),
	}
}

func (s *Service) threadView(doc *cbstore.Document, thread *cbstore.Thread, viewerID string, now time.Time) *ThreadView {
	view := &ThreadView{
		ThreadSummary: *s.threadSummary(thread, now),
		Posts:         make([]*PostView, 0, len(thread.Posts)),
	}

	for i, post := range thread.Posts {
		postView := &PostView{
			ID:          post.ID,
			Num:         i + 1,
			AuthorID:    post.AuthorID,
			CreatedAt:   post.CreatedAt,
			UpdatedAt:   post.UpdatedAt,
			Body:        post.Body,
			Attachments: []AttachmentFile{},
		}

		for _, req := range doc.Attachments {
			if req.ThreadID != thread.ID || req.PostID != post.ID {
				continue
			}
			switch {
			case req.Status == cbreview.StatusApproved:
				postView.Attachments = append(postView.Attachments, AttachmentFile{ID: req.ID, File: req.File})
			case req.Status == cbreview.StatusPending && viewerID != "" && req.RequesterID == viewerID:
				postView.PendingAttachments++
			}
		}

		view.Posts = append(view.Posts, postView)
	}

	return view
}

// publicThread resolves a thread for a non-admin caller: hidden threads are
// as good as absent.
func publicThread(doc *cbstore.Document, threadID string) *cbstore.Thread {
	thread := doc.FindThread(threadID)
	if thread == nil || thread.Hidden {
		return nil
	}
	return thread
}

func isVerified(doc *cbstore.Document, userID string) bool {
	_, ok := doc.VerifiedUsers[userID]
	return ok
}

func pruneEngagement(thread *cbstore.Thread, now time.Time) {
	cbwindow.PruneMap(thread.Likes, now)
	thread.Views = cbwindow.Prune(thread.Views, now)
}

func engagementCounts(thread *cbstore.Thread, now time.Time) WindowCounts {
	// Likes and views are both engagement; a window's count is their sum.
	return WindowCounts{
		Day:   cbwindow.CountMapWithin(thread.Likes, cbwindow.Day, now) + cbwindow.CountWithin(thread.Views, cbwindow.Day, now),
		Week:  cbwindow.CountMapWithin(thread.Likes, cbwindow.Week, now) + cbwindow.CountWithin(thread.Views, cbwindow.Week, now),
		Month: cbwindow.CountMapWithin(thread.Likes, cbwindow.Month, now) + cbwindow.CountWithin(thread.Views, cbwindow.Month, now),
	}
}

func updatedAfter(a, b *ThreadSummary) bool {
	ta, _ := timeutil.ParseStamp(a.UpdatedAt)
	tb, _ := timeutil.ParseStamp(b.UpdatedAt)
	return ta.After(tb)
}

func requireIdentity(id, field string) error {
	if strings.TrimSpace(id) == "" {
		return validationErrorf("%s is required", field)
	}
	return nil
}

func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return cbstore.DefaultTitle
	}
	return stringutil.TruncateRunes(title, cbstore.MaxTitleLength)
}

// normalizeTags trims, truncates and case-sensitively de-duplicates tags,
// preserving first-seen order and capping the list length.
func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))

	for _, tag := range tags {
		tag = stringutil.TruncateRunes(strings.TrimSpace(tag), cbstore.MaxTagLength)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}

		normalized = append(normalized, tag)
		if len(normalized) == cbstore.MaxTags {
			break
		}
	}

	return normalized
}

func normalizeBody(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", &ValidationError{Message: "post body is required"}
	}
	if utf8.RuneCountInString(body) > cbstore.MaxPostLength {
		return "", validationErrorf("post body is longer than the %d character maximum", cbstore.MaxPostLength)
	}
	return body, nil
}
