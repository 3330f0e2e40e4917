package main

import (
	"context"
	_ "embed"
	"strings"

	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/cbboard"
	"github.com/corkboard/corkboard/internal/util/randutil"
)

//go:embed seed_content.md
var seedContentRaw string

type seedThread struct {
	title   string
	tags    []string
	body    string
	replies []string
}

// seedThreads loads the embedded demo threads into an empty board. Boards
// that already hold threads are left alone.
func seedThreads(ctx context.Context, svc *cbboard.Service) (int, error) {
	existing, err := svc.AdminListThreads(ctx, cbboard.SortUpdated)
	if err != nil {
		return 0, xerrors.Errorf("error checking for existing threads: %w", err)
	}
	if len(existing) > 0 {
		return 0, xerrors.Errorf("refusing to seed: store already contains %d thread(s)", len(existing))
	}

	seeds := parseSeedThreads(seedContentRaw)

	for _, seed := range seeds {
		thread, err := svc.CreateThread(ctx, &cbboard.CreateThreadParams{
			CreatorID: seedIdentity(),
			Title:     seed.title,
			Tags:      seed.tags,
			Body:      seed.body,
		})
		if err != nil {
			return 0, xerrors.Errorf("error seeding thread %q: %w", seed.title, err)
		}

		for _, reply := range seed.replies {
			if _, err := svc.AddPost(ctx, thread.ID, &cbboard.AddPostParams{
				AuthorID: seedIdentity(),
				Body:     reply,
			}); err != nil {
				return 0, xerrors.Errorf("error seeding reply to %q: %w", seed.title, err)
			}
		}
	}

	return len(seeds), nil
}

// Demo posters get throwaway identities so seeded content looks like it came
// from different people.
func seedIdentity() string {
	return "seed-" + randutil.Hex(4)
}

// parseSeedThreads parses the embedded seed file: threads are separated by
// `---` lines, a thread's replies by `>>>` lines. Within a thread's first
// segment, a `# ` line is the title and a `tags:` line is its comma-separated
// tag list; everything else is the opening post's body.
func parseSeedThreads(raw string) []seedThread {
	blocks := strings.Split(raw, "\n---\n")

	threads := make([]seedThread, 0, len(blocks))

	for _, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}

		segments := strings.Split(block, "\n>>>\n")

		var (
			bodyLines []string
			thread    seedThread
		)

		for _, line := range strings.Split(segments[0], "\n") {
			switch {
			case thread.title == "" && strings.HasPrefix(line, "# "):
				thread.title = strings.TrimSpace(strings.TrimPrefix(line, "# "))

			case len(bodyLines) == 0 && strings.HasPrefix(line, "tags:"):
				for _, tag := range strings.Split(strings.TrimPrefix(line, "tags:"), ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						thread.tags = append(thread.tags, tag)
					}
				}

			default:
				bodyLines = append(bodyLines, line)
			}
		}
		thread.body = strings.TrimSpace(strings.Join(bodyLines, "\n"))

		for _, segment := range segments[1:] {
			if segment = strings.TrimSpace(segment); segment != "" {
				thread.replies = append(thread.replies, segment)
			}
		}

		threads = append(threads, thread)
	}

	return threads
}
