package persona

import (
	"context"
	"time"
)

// Store persists persona documents, version history and the active
// persona binding per scope.
type Store interface {
	// PutDocument writes doc as the new current version, archiving the
	// previous one. It returns the version number assigned.
	PutDocument(ctx context.Context, doc *Document) (int, error)
	GetDocument(ctx context.Context, key SubjectKey) (*Document, error)
	ListDocuments(ctx context.Context, scope string) ([]*Document, error)
	History(ctx context.Context, key SubjectKey) ([]*Document, error)
	// EraseDocuments removes the current document and all history rows.
	EraseDocuments(ctx context.Context, key SubjectKey) error

	SetActive(ctx context.Context, scope, subject string) error
	GetActive(ctx context.Context, scope string) (string, error)
	ClearActive(ctx context.Context, scope string) error
}

// Index stores corpus chunks with embeddings and answers similarity
// queries scoped to one subject.
type Index interface {
	InsertChunks(ctx context.Context, chunks []Chunk) error
	// TopK returns up to k chunks ordered by descending cosine score,
	// ties broken by recency then chunk id.
	TopK(ctx context.Context, key SubjectKey, query []float32, k int) ([]ScoredChunk, error)
	EraseChunks(ctx context.Context, key SubjectKey) error
	ChunkCount(ctx context.Context, key SubjectKey) (int, error)
}

// CaptionCache memoizes vision captions keyed by image URL.
type CaptionCache interface {
	GetCaption(ctx context.Context, url string) (string, bool, error)
	PutCaption(ctx context.Context, url, caption string, ttl time.Duration) error
	PurgeExpiredCaptions(ctx context.Context) (int, error)
}
