package importer

import (
	"os"
	"sync"
	"time"
)

// PreviewTTL bounds how long an analyze result stays redeemable. There is no
// cancellation API; entries age out.
const PreviewTTL = 2 * time.Hour

// PreviewPayload is what a token redeems to: the identity of the session
// being imported and the paths to the uploaded files. Commit re-parses the
// files rather than trusting any cached parse result.
type PreviewPayload struct {
	ExamID        int64
	SessionNumber int
	BlueprintPath string
	ResponsesPath string
	Summary       AnalyzeResult
}

// PreviewSession pairs a payload with its opaque token and deadline.
type PreviewSession struct {
	Token     string
	ExpiresAt time.Time
	Payload   PreviewPayload
}

// PreviewStore holds pending analyze results between the two import phases.
// Implementations must treat an expired entry as absent and own the uploaded
// files of entries they expire.
type PreviewStore interface {
	Put(s PreviewSession)
	Get(token string) (PreviewSession, bool)
	Delete(token string)
}

type memoryPreviewStore struct {
	mu  sync.Mutex
	m   map[string]PreviewSession
	now func() time.Time
}

// NewMemoryPreviewStore returns an in-process PreviewStore. now is injectable
// so expiry is unit-testable without sleeping.
func NewMemoryPreviewStore(now func() time.Time) PreviewStore {
	if now == nil {
		now = time.Now
	}
	return &memoryPreviewStore{m: map[string]PreviewSession{}, now: now}
}

func (p *memoryPreviewStore) Put(s PreviewSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	p.m[s.Token] = s
}

func (p *memoryPreviewStore) Get(token string) (PreviewSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.m[token]
	if !ok {
		return PreviewSession{}, false
	}
	if p.now().After(s.ExpiresAt) {
		p.expireLocked(token, s)
		return PreviewSession{}, false
	}
	return s, true
}

func (p *memoryPreviewStore) Delete(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, token)
}

// sweepLocked evicts every expired entry. Running it on Put keeps the map and
// the upload dir bounded under sustained use without a background goroutine.
func (p *memoryPreviewStore) sweepLocked() {
	now := p.now()
	for token, s := range p.m {
		if now.After(s.ExpiresAt) {
			p.expireLocked(token, s)
		}
	}
}

// expireLocked drops the entry and its uploaded files; nothing else will
// redeem them once the token is gone.
func (p *memoryPreviewStore) expireLocked(token string, s PreviewSession) {
	delete(p.m, token)
	if s.Payload.BlueprintPath != "" {
		_ = os.Remove(s.Payload.BlueprintPath)
	}
	if s.Payload.ResponsesPath != "" {
		_ = os.Remove(s.Payload.ResponsesPath)
	}
}
