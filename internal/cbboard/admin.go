package cbboard

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/cbreview"
	"github.com/corkboard/corkboard/internal/cbstore"
)

// Admin operations. Bearer tokens are checked at the HTTP boundary; these
// methods trust their caller.

// AdminListThreads is the moderator's listing: hidden threads included.
func (s *Service) AdminListThreads(ctx context.Context, sort Sort) ([]*ThreadSummary, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	return s.listThreads(doc, sort, true), nil
}

// SetThreadHidden flips a thread's soft-delete flag. Hidden threads vanish
// from every public surface but keep their posts and attachment rows, so
// unhiding restores them intact. Doesn't count as activity.
func (s *Service) SetThreadHidden(ctx context.Context, threadID string, hidden bool) (*ThreadSummary, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	thread := doc.FindThread(threadID)
	if thread == nil {
		return nil, &ThreadNotFoundError{ID: threadID}
	}
	thread.Hidden = hidden

	s.persist(ctx, doc)
	return s.threadSummary(thread, s.timeNow()), nil
}

// DeleteThread removes a thread permanently, attachment rows cascading with
// it.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return xerrors.Errorf("error loading document: %w", err)
	}

	if !doc.DeleteThread(threadID) {
		return &ThreadNotFoundError{ID: threadID}
	}

	s.persist(ctx, doc)
	return nil
}

// DeletePost removes a post permanently, its attachment rows cascading with
// it. Removing a thread's last remaining post removes the thread: a thread
// never exists without its opening post.
func (s *Service) DeletePost(ctx context.Context, threadID, postID string) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return xerrors.Errorf("error loading document: %w", err)
	}

	thread := doc.FindThread(threadID)
	if thread == nil {
		return &ThreadNotFoundError{ID: threadID}
	}

	if len(thread.Posts) == 1 && thread.Posts[0].ID == postID {
		doc.DeleteThread(threadID)
	} else if !doc.DeletePost(threadID, postID) {
		return &PostNotFoundError{ThreadID: threadID, ID: postID}
	}

	s.persist(ctx, doc)
	return nil
}

// ListAttachments returns attachment requests for review, optionally
// filtered by status.
func (s *Service) ListAttachments(ctx context.Context, filter *cbreview.Status) ([]*RequestView, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	views := make([]*RequestView, 0, len(doc.Attachments))
	for _, req := range doc.Attachments {
		if filter != nil && req.Status != *filter {
			continue
		}
		views = append(views, attachmentView(req))
	}

	return views, nil
}

// ListVerifyRequests returns verification requests for review, optionally
// filtered by status.
func (s *Service) ListVerifyRequests(ctx context.Context, filter *cbreview.Status) ([]*RequestView, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	views := make([]*RequestView, 0, len(doc.VerifyRequests))
	for _, req := range doc.VerifyRequests {
		if filter != nil && req.Status != *filter {
			continue
		}
		views = append(views, verifyRequestView(req))
	}

	return views, nil
}

// ReviewAttachment takes the one-shot decision on an attachment request.
// Approval makes the file publicly visible on its post.
func (s *Service) ReviewAttachment(ctx context.Context, id string, action cbreview.Action, note string) (*RequestView, error) { //nolint:lll
	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	req := doc.FindAttachment(id)
	if req == nil {
		return nil, &AttachmentNotFoundError{ID: id}
	}

	if err := req.Review(action, note, s.timeNow()); err != nil {
		return nil, err //nolint:wrapcheck
	}

	s.persist(ctx, doc)
	return attachmentView(req), nil
}

// ReviewVerifyRequest takes the one-shot decision on a verification request.
// Approval additionally records the requester as a verified user, stamped
// with the review time and linked back to the request.
func (s *Service) ReviewVerifyRequest(ctx context.Context, id string, action cbreview.Action, note string) (*RequestView, error) { //nolint:lll
	s.mut.Lock()
	defer s.mut.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error loading document: %w", err)
	}

	req := doc.FindVerifyRequest(id)
	if req == nil {
		return nil, &VerifyRequestNotFoundError{ID: id}
	}

	if err := req.Review(action, note, s.timeNow()); err != nil {
		return nil, err //nolint:wrapcheck
	}

	if req.Status == cbreview.StatusApproved {
		doc.VerifiedUsers[req.RequesterID] = &cbstore.VerifiedUser{
			VerifiedAt: req.ReviewedAt,
			RequestID:  req.ID,
		}
	}

	s.persist(ctx, doc)
	return verifyRequestView(req), nil
}
