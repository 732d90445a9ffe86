package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"policyeval/internal/domain"
	"policyeval/internal/logging"
)

// ErrSessionSetup marks a failure to load or create the assistant session. It is fatal for a run.
var ErrSessionSetup = errors.New("assistant session setup failed")

// DefaultInstructions are the assistant's standing instructions.
const DefaultInstructions = `당신은 개인정보 처리방침 평가 전문가입니다.
첨부된 개인정보 처리방침 작성지침과 사용자가 제시하는 법령 조항을 근거로,
처리방침 문장이 평가 기준 항목을 충족하는지 판단합니다.
응답은 항상 지시된 필드를 모두 포함한 JSON 객체 한 줄로만 작성합니다.`

// Config describes the session to create on a cold cache.
type Config struct {
	Key             string
	GuidelinePath   string
	AssistantName   string
	Model           string
	Instructions    string
	VectorStoreName string
}

// Manager returns the cached assistant session, provisioning it once when the cache is empty.
// Concurrent cold starts in separate processes may each provision a session.
type Manager struct {
	store Store
	prov  domain.SessionProvisioner
	cfg   Config
	log   *zap.Logger
	now   func() time.Time

	mu     sync.Mutex
	cached *domain.AssistantSession
}

// NewManager creates a Manager.
func NewManager(store Store, prov domain.SessionProvisioner, cfg Config, log *zap.Logger) *Manager {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "privacy-policy-judge"
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.VectorStoreName == "" {
		cfg.VectorStoreName = "privacy-policy-guideline"
	}
	return &Manager{
		store: store,
		prov:  prov,
		cfg:   cfg,
		log:   logging.OrNop(log).Named("session"),
		now:   time.Now,
	}
}

// Load returns the stored session without provisioning.
func (m *Manager) Load(ctx context.Context) (domain.AssistantSession, bool, error) {
	s, ok, err := m.store.Load(ctx, m.cfg.Key)
	if err != nil || !ok || s.AssistantID == "" {
		return domain.AssistantSession{}, false, err
	}
	return s, true, nil
}

// GetOrCreate returns the cached session or uploads the guideline, indexes it, creates the
// assistant and saves the result. Within one process the store is consulted at most once.
// Every failure wraps ErrSessionSetup.
func (m *Manager) GetOrCreate(ctx context.Context) (domain.AssistantSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return *m.cached, nil
	}

	s, ok, err := m.Load(ctx)
	if err != nil {
		return domain.AssistantSession{}, fmt.Errorf("%w: load cache: %w", ErrSessionSetup, err)
	}
	if ok {
		m.log.Info("reusing cached assistant session", zap.String("assistant_id", s.AssistantID))
		m.cached = &s
		return s, nil
	}

	s, err = m.provision(ctx)
	if err != nil {
		return domain.AssistantSession{}, fmt.Errorf("%w: %w", ErrSessionSetup, err)
	}
	if err := m.store.Save(ctx, m.cfg.Key, s); err != nil {
		return domain.AssistantSession{}, fmt.Errorf("%w: save cache: %w", ErrSessionSetup, err)
	}
	m.log.Info("created assistant session",
		zap.String("assistant_id", s.AssistantID), zap.String("vector_store_id", s.VectorStoreID))
	m.cached = &s
	return s, nil
}

func (m *Manager) provision(ctx context.Context) (domain.AssistantSession, error) {
	if m.prov == nil {
		return domain.AssistantSession{}, errors.New("no provisioner configured")
	}
	if m.cfg.GuidelinePath == "" {
		return domain.AssistantSession{}, errors.New("no guideline document configured")
	}
	if m.cfg.Model == "" {
		return domain.AssistantSession{}, errors.New("no judge model configured")
	}

	fileID, err := m.prov.UploadDocument(ctx, m.cfg.GuidelinePath)
	if err != nil {
		return domain.AssistantSession{}, fmt.Errorf("upload guideline: %w", err)
	}
	vsID, err := m.prov.IndexDocuments(ctx, m.cfg.VectorStoreName, []string{fileID})
	if err != nil {
		return domain.AssistantSession{}, fmt.Errorf("index guideline: %w", err)
	}
	asstID, err := m.prov.CreateAssistant(ctx, domain.AssistantSpec{
		Name:          m.cfg.AssistantName,
		Model:         m.cfg.Model,
		Instructions:  m.cfg.Instructions,
		VectorStoreID: vsID,
	})
	if err != nil {
		return domain.AssistantSession{}, fmt.Errorf("create assistant: %w", err)
	}
	return domain.AssistantSession{
		AssistantID:   asstID,
		FileID:        fileID,
		VectorStoreID: vsID,
		Model:         m.cfg.Model,
		CreatedAt:     m.now().UTC(),
	}, nil
}

// Clear deletes the cached session. The remote assistant is left in place.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	if err := m.store.Delete(ctx, m.cfg.Key); err != nil {
		return fmt.Errorf("clear session cache: %w", err)
	}
	return nil
}
