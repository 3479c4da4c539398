// Package capture implements CaptureService, the single entry point for
// writing a memory: authorize, validate, redact, hash, embed, dedup,
// persist, emit, in one orchestrating method.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/authctx"
	"github.com/subcog/subcog/internal/dedup"
	"github.com/subcog/subcog/internal/embedding"
	"github.com/subcog/subcog/internal/errs"
	"github.com/subcog/subcog/internal/eventbus"
	"github.com/subcog/subcog/internal/hasher"
	"github.com/subcog/subcog/internal/index"
	"github.com/subcog/subcog/internal/models"
	"github.com/subcog/subcog/internal/redact"
	"github.com/subcog/subcog/internal/resilience"
	"github.com/subcog/subcog/internal/vectorindex"
)

// maxContentBytes bounds memory content size after redaction.
const maxContentBytes = 500_000

// SecretPolicy controls what happens when the redactor's secret detector
// finds something.
type SecretPolicy string

const (
	// SecretPolicyBlock fails the capture with SecretsDetected.
	SecretPolicyBlock SecretPolicy = "block"
	// SecretPolicyRedact applies the configured redaction mode and proceeds.
	SecretPolicyRedact SecretPolicy = "redact"
)

// DedupPolicy controls what CaptureService does when the Deduplicator
// reports a match.
type DedupPolicy string

const (
	// DedupPolicySkip returns Skipped without writing a new memory.
	DedupPolicySkip DedupPolicy = "skip"
	// DedupPolicyLink persists the new memory, tagged duplicate-of:<id>.
	DedupPolicyLink DedupPolicy = "link"
)

// Request is the input to Capture.
type Request struct {
	Content           string
	Namespace         models.Namespace
	Domain            models.Domain
	Tags              []string
	Source            string
	SkipSecurityCheck bool
	TTLSeconds        int
	UserID            string
	AgentID           string
	GroupID           string
	Project           string
	Branch            string
	File              string
}

// Result is the outcome of a successful (including Skipped) capture.
type Result struct {
	MemoryID        string
	URN             string
	ContentModified bool
	Skipped         bool
	MatchedURN      string
	DedupReason     dedup.Reason
}

// Config bounds CaptureService's policy choices.
type Config struct {
	SecretPolicy  SecretPolicy
	DedupPolicy   DedupPolicy
	RedactConfig  redact.Config
	EmbedTimeout  time.Duration
	EmbedMaxConcurrent int
}

// DefaultConfig returns the conservative defaults: block on secrets, skip
// on duplicates, mask-mode redaction, a two-way embedding bulkhead.
func DefaultConfig() Config {
	return Config{
		SecretPolicy:       SecretPolicyBlock,
		DedupPolicy:        DedupPolicySkip,
		RedactConfig:       redact.DefaultConfig(),
		EmbedTimeout:       30 * time.Second,
		EmbedMaxConcurrent: 2,
	}
}

// Service is the capture pipeline: a single Capture method orchestrating
// redaction, hashing, embedding, deduplication, persistence, and event
// emission over its injected dependencies.
type Service struct {
	cfg       Config
	index     index.Backend
	vector    vectorindex.Backend
	dedup     *dedup.Deduplicator
	embedder  embedding.Embedder
	bus       *eventbus.Bus
	redactor  *redact.Redactor
	secrets   *redact.SecretDetector
	bulkhead  *resilience.Bulkhead
	timeout   *resilience.TimeoutRunner
	logger    *zap.Logger
}

// New constructs a Service. embedder may be nil, in which case no embedding
// is computed and the semantic dedup stage and vector persistence are
// skipped for every capture.
func New(cfg Config, idx index.Backend, vec vectorindex.Backend, dd *dedup.Deduplicator, embedder embedding.Embedder, bus *eventbus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		index:    idx,
		vector:   vec,
		dedup:    dd,
		embedder: embedder,
		bus:      bus,
		redactor: redact.NewWithConfig(cfg.RedactConfig, logger),
		secrets:  redact.NewSecretDetector(),
		bulkhead: resilience.NewBulkhead("embedding", resilience.BulkheadConfig{
			MaxConcurrent:  cfg.EmbedMaxConcurrent,
			AcquireTimeout: cfg.EmbedTimeout,
		}),
		timeout: resilience.NewTimeoutRunner("embedding", cfg.EmbedTimeout),
		logger:  logger,
	}
}

// Capture runs the nine-step capture pipeline: authorize,
// validate, redact, compute id, compute embedding, dedup, persist, emit,
// return.
func (s *Service) Capture(ctx context.Context, auth authctx.Context, req Request) (Result, error) {
	const op = "capture.Capture"

	if err := auth.Require(s.logger, op, authctx.Write); err != nil {
		return Result{}, err
	}

	if err := validate(req); err != nil {
		return Result{}, err
	}

	content := req.Content
	contentModified := false
	if !req.SkipSecurityCheck {
		if s.cfg.SecretPolicy == SecretPolicyBlock && s.secrets.ContainsSecrets(content) {
			s.logger.Warn("capture blocked: secrets detected",
				zap.String("namespace", string(req.Namespace)),
				zap.Strings("secret_types", s.secrets.DetectTypes(content)))
			return Result{}, errs.New(errs.SecretsDetected, op, nil)
		}
		redacted, changed := s.redactor.RedactWithFlag(content)
		content = redacted
		contentModified = changed
	}

	if len(content) > maxContentBytes {
		return Result{}, errs.New(errs.InvalidInput, op, fmt.Errorf("content exceeds %d bytes after redaction", maxContentBytes))
	}

	id, err := s.computeID(ctx, content, req.Namespace, req.Domain)
	if err != nil {
		return Result{}, errs.Wrap(op, "hasher", err)
	}

	var embVec []float32
	if s.embedder != nil {
		embVec, err = s.computeEmbedding(ctx, content)
		if err != nil {
			return Result{}, errs.Wrap(op, "embedding", err)
		}
	}

	hashTag := hasher.ContentToTag(content)

	if s.dedup != nil {
		check, err := s.dedup.Check(ctx, content, req.Namespace, req.Domain, embVec)
		if err != nil {
			s.logger.Warn("dedup check failed, proceeding with capture", zap.Error(err))
		} else if check.IsDuplicate {
			if s.cfg.DedupPolicy == DedupPolicySkip {
				if err := s.resurrectIfTombstoned(ctx, check.MatchedMemoryID); err != nil {
					s.logger.Warn("resurrect on recapture failed", zap.String("memory_id", check.MatchedMemoryID), zap.Error(err))
				}
				return Result{
					MemoryID:    check.MatchedMemoryID,
					Skipped:     true,
					MatchedURN:  check.MatchedURN,
					DedupReason: check.Reason,
				}, nil
			}
			req.Tags = append(req.Tags, "duplicate-of:"+check.MatchedMemoryID)
		}
	}

	now := time.Now()
	tags := append([]string{hashTag}, req.Tags...)
	mem := &models.Memory{
		ID:        id,
		Content:   content,
		Namespace: req.Namespace,
		Domain:    req.Domain,
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      tags,
		Source:    req.Source,
		Embedding: embVec,
		UserID:    req.UserID,
		AgentID:   req.AgentID,
		GroupID:   req.GroupID,
		Project:   req.Project,
		Branch:    req.Branch,
		File:      req.File,
	}
	if req.TTLSeconds > 0 {
		expires := now.Add(time.Duration(req.TTLSeconds) * time.Second)
		mem.ExpiresAt = &expires
	}

	if err := s.persist(ctx, mem); err != nil {
		return Result{}, errs.Wrap(op, "persist", err)
	}

	if s.dedup != nil {
		s.dedup.RecordCapture(hasher.Hash(content), id)
	}

	s.publish(ctx, mem, req.Source)

	return Result{
		MemoryID:        id,
		URN:             mem.URN(),
		ContentModified: contentModified,
	}, nil
}

// validate enforces step 2: content non-empty after trim,
// within the size cap, namespace within the closed enum, tags short and
// printable.
func validate(req Request) error {
	const op = "capture.validate"
	if strings.TrimSpace(req.Content) == "" {
		return errs.New(errs.InvalidInput, op, fmt.Errorf("content is empty"))
	}
	if len(req.Content) > maxContentBytes {
		return errs.New(errs.InvalidInput, op, fmt.Errorf("content exceeds %d bytes", maxContentBytes))
	}
	if !req.Namespace.IsValid() {
		return errs.New(errs.InvalidInput, op, fmt.Errorf("invalid namespace %q", req.Namespace))
	}
	for _, tag := range req.Tags {
		if len(tag) == 0 || len(tag) > 128 {
			return errs.New(errs.InvalidInput, op, fmt.Errorf("tag %q must be 1-128 bytes", tag))
		}
		if !isPrintable(tag) {
			return errs.New(errs.InvalidInput, op, fmt.Errorf("tag %q contains non-printable characters", tag))
		}
	}
	return nil
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// resurrectIfTombstoned flips a previously-tombstoned match back to active
// on recapture. A no-op when the memory is missing or already active.
func (s *Service) resurrectIfTombstoned(ctx context.Context, memoryID string) error {
	mem, err := s.index.GetMemory(ctx, memoryID)
	if err != nil {
		return err
	}
	if mem == nil || mem.Status != models.StatusTombstoned {
		return nil
	}
	mem.Resurrect(time.Now())
	return s.index.Index(ctx, mem)
}

// computeID derives a 16-hex-char id from content, namespace, domain, and
// the current instant, retrying with a counter suffix on the (astronomically
// rare) case of a collision. Callers hold no lock
// across retries, so this is best-effort collision avoidance, not a
// guarantee under concurrent identical-content captures within the same
// nanosecond.
func (s *Service) computeID(ctx context.Context, content string, namespace models.Namespace, domain models.Domain) (string, error) {
	base := content + string(namespace) + string(domain) + strconv.FormatInt(time.Now().UnixNano(), 10)
	for attempt := 0; attempt < 8; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate += strconv.Itoa(attempt)
		}
		sum := sha256.Sum256([]byte(candidate))
		id := hex.EncodeToString(sum[:])[:16]
		existing, err := s.index.GetMemory(ctx, id)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return id, nil
		}
	}
	return "", fmt.Errorf("exhausted id collision retries")
}

// computeEmbedding runs the embedder under the bulkhead and timeout bound.
func (s *Service) computeEmbedding(ctx context.Context, content string) ([]float32, error) {
	var vec []float32
	err := s.bulkhead.Run(ctx, func(ctx context.Context) error {
		return s.timeout.Run(ctx, func(ctx context.Context) error {
			v, err := s.embedder.Embed(ctx, content)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	return vec, err
}

// persist writes the index row and, when an embedding is present, the
// vector entry. A vector-upsert failure after a successful index insert
// triggers compensating removal of the index row.
func (s *Service) persist(ctx context.Context, mem *models.Memory) error {
	if err := s.index.Index(ctx, mem); err != nil {
		return err
	}
	if len(mem.Embedding) == 0 || s.vector == nil {
		return nil
	}
	if err := s.vector.Add(ctx, []string{mem.ID}, [][]float32{mem.Embedding}); err != nil {
		if _, removeErr := s.index.Remove(ctx, mem.ID); removeErr != nil {
			s.logger.Error("capture: compensating index removal failed after vector upsert failure",
				zap.String("memory_id", mem.ID), zap.Error(removeErr))
		}
		return err
	}
	return nil
}

// publish emits MemoryEvent::Captured, never failing the capture itself.
func (s *Service) publish(ctx context.Context, mem *models.Memory, source string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, models.MemoryEvent{
		Kind: models.EventCaptured,
		Meta: models.EventMeta{
			Source:    source,
			Timestamp: time.Now(),
		},
		MemoryID:      mem.ID,
		Namespace:     mem.Namespace,
		Domain:        mem.Domain,
		ContentLength: len(mem.Content),
	})
}
