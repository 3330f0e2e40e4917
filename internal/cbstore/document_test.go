package cbstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corkboard/corkboard/internal/cbreview"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument()

	require.NotNil(t, doc.Threads)
	require.NotNil(t, doc.Attachments)
	require.NotNil(t, doc.VerifyRequests)
	require.NotNil(t, doc.VerifiedUsers)
	require.Empty(t, doc.Threads)
}

func TestDocumentNormalize(t *testing.T) {
	// Documents written by older versions of the board may omit the optional
	// sections and per-thread collections entirely.
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(`{
		"threads": [{"id": "t1", "title": "old thread"}]
	}`), &doc))

	doc.Normalize()

	require.NotNil(t, doc.Attachments)
	require.NotNil(t, doc.VerifyRequests)
	require.NotNil(t, doc.VerifiedUsers)

	thread := doc.Threads[0]
	require.NotNil(t, thread.Tags)
	require.NotNil(t, thread.Posts)
	require.NotNil(t, thread.Likes)
	require.NotNil(t, thread.Views)
}

func TestDocumentClone(t *testing.T) {
	doc := NewDocument()
	doc.Threads = append(doc.Threads, &Thread{
		ID:    "t1",
		Title: "original",
		Tags:  []string{"tag1"},
		Posts: []*Post{{ID: "p1", Body: "hello"}},
		Likes: map[string]string{"u1": "2022-11-09T10:11:12.000Z"},
		Views: []string{"2022-11-09T10:11:12.000Z"},
	})
	doc.VerifiedUsers["u1"] = &VerifiedUser{VerifiedAt: "2022-11-09T10:11:12.000Z", RequestID: "v1"}

	clone := doc.Clone()
	require.Equal(t, doc, clone)

	// Mutating the clone leaves the original untouched at every depth.
	clone.Threads[0].Title = "changed"
	clone.Threads[0].Posts[0].Body = "changed"
	clone.Threads[0].Likes["u2"] = "2022-11-10T00:00:00.000Z"
	clone.VerifiedUsers["u2"] = &VerifiedUser{}

	require.Equal(t, "original", doc.Threads[0].Title)
	require.Equal(t, "hello", doc.Threads[0].Posts[0].Body)
	require.Len(t, doc.Threads[0].Likes, 1)
	require.Len(t, doc.VerifiedUsers, 1)
}

func TestDocumentRoundTrip(t *testing.T) {
	doc := NewDocument()
	doc.Threads = append(doc.Threads, &Thread{
		ID:        "t1",
		Title:     "thread",
		Tags:      []string{},
		CreatorID: "u1",
		CreatedAt: "2022-11-09T10:11:12.000Z",
		UpdatedAt: "2022-11-09T10:11:12.000Z",
		Posts:     []*Post{{ID: "p1", AuthorID: "u1", Body: "hi", CreatedAt: "2022-11-09T10:11:12.000Z", UpdatedAt: "2022-11-09T10:11:12.000Z"}}, //nolint:lll
		Likes:     map[string]string{},
		Views:     []string{},
	})
	doc.Attachments = append(doc.Attachments, &AttachmentRequest{
		ID:          "a1",
		ThreadID:    "t1",
		PostID:      "p1",
		RequesterID: "u1",
		File:        FileDesc{Name: "cat.png", Type: "image/png", Size: 3, DataURL: "data:image/png;base64,aGk="},
		Ticket:      cbreview.NewTicket(),
		CreatedAt:   "2022-11-09T10:11:12.000Z",
	})

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var reloaded Document
	require.NoError(t, json.Unmarshal(data, &reloaded))
	reloaded.Normalize()

	// Equal state back, including the empty collections.
	require.Equal(t, doc, &reloaded)
	require.NotNil(t, reloaded.Threads[0].Likes)
	require.NotNil(t, reloaded.Threads[0].Views)
	require.Empty(t, reloaded.VerifyRequests)

	// The review ticket's fields serialize inline on the request, pending
	// state included.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	attachments := raw["attachments"].([]any)
	first := attachments[0].(map[string]any)
	require.Equal(t, "pending", first["status"])
	require.Equal(t, "", first["reviewedAt"])
}

func TestDocumentFinders(t *testing.T) {
	doc := NewDocument()
	thread := &Thread{ID: "t1", Posts: []*Post{{ID: "p1"}, {ID: "p2"}}}
	doc.Threads = append(doc.Threads, thread)
	doc.Attachments = append(doc.Attachments, &AttachmentRequest{ID: "a1", ThreadID: "t1", PostID: "p1"})
	doc.VerifyRequests = append(doc.VerifyRequests, &VerifyRequest{ID: "v1"})

	require.Equal(t, thread, doc.FindThread("t1"))
	require.Nil(t, doc.FindThread("missing"))

	require.Equal(t, "p2", thread.FindPost("p2").ID)
	require.Nil(t, thread.FindPost("missing"))

	require.Equal(t, "a1", doc.FindAttachment("a1").ID)
	require.Nil(t, doc.FindAttachment("missing"))

	require.Equal(t, "v1", doc.FindVerifyRequest("v1").ID)
	require.Nil(t, doc.FindVerifyRequest("missing"))
}

func TestDocumentDeleteThread(t *testing.T) {
	doc := NewDocument()
	doc.Threads = append(doc.Threads, &Thread{ID: "t1"}, &Thread{ID: "t2"})
	doc.Attachments = append(doc.Attachments,
		&AttachmentRequest{ID: "a1", ThreadID: "t1", PostID: "p1"},
		&AttachmentRequest{ID: "a2", ThreadID: "t2", PostID: "p9"},
	)

	require.True(t, doc.DeleteThread("t1"))

	require.Nil(t, doc.FindThread("t1"))
	require.NotNil(t, doc.FindThread("t2"))

	// Attachment rows referencing the deleted thread go with it.
	require.Len(t, doc.Attachments, 1)
	require.Equal(t, "a2", doc.Attachments[0].ID)

	require.False(t, doc.DeleteThread("t1"))
}

func TestDocumentDeletePost(t *testing.T) {
	doc := NewDocument()
	doc.Threads = append(doc.Threads, &Thread{ID: "t1", Posts: []*Post{{ID: "p1"}, {ID: "p2"}}})
	doc.Attachments = append(doc.Attachments,
		&AttachmentRequest{ID: "a1", ThreadID: "t1", PostID: "p1"},
		&AttachmentRequest{ID: "a2", ThreadID: "t1", PostID: "p2"},
	)

	require.True(t, doc.DeletePost("t1", "p1"))

	thread := doc.FindThread("t1")
	require.Len(t, thread.Posts, 1)
	require.Equal(t, "p2", thread.Posts[0].ID)

	require.Len(t, doc.Attachments, 1)
	require.Equal(t, "a2", doc.Attachments[0].ID)

	require.False(t, doc.DeletePost("t1", "p1"))
	require.False(t, doc.DeletePost("missing", "p2"))
}
