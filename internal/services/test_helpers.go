package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fablehq/accounts/internal/models"
	"github.com/fablehq/accounts/pkg/logger"
)

// MockProfileRepository implements every profile repository surface
// used by the services for testing
type MockProfileRepository struct {
	GetByIDFunc              func(ctx context.Context, id string) (*models.Profile, error)
	GetByEmailFunc           func(ctx context.Context, email string) (*models.Profile, error)
	GetByDisplayNameFunc     func(ctx context.Context, name string) (*models.Profile, error)
	ListFunc                 func(ctx context.Context, limit, offset int) ([]*models.Profile, error)
	CreateFunc               func(ctx context.Context, p *models.Profile) (*models.Profile, error)
	UpdatePerksFunc          func(ctx context.Context, id string, perks []string, activePerk string) error
	CallAdminUpdatePerksFunc func(ctx context.Context, id string, perks []string) error
	WritePerkMirrorFunc      func(ctx context.Context, id string, raw string) error
	SetDisplayNameFunc       func(ctx context.Context, id, name string) error
	SetAvatarFunc            func(ctx context.Context, id, avatar string) error
	SetActivePerkFunc        func(ctx context.Context, id, perk string) error
	SetPasswordFunc          func(ctx context.Context, id, passwordHash string) error
	SetBanFunc               func(ctx context.Context, id, reason string, endAt *time.Time, adminID, adminName string) error
	ClearBanFunc             func(ctx context.Context, id string) error
	CountTotalFunc           func(ctx context.Context) (int64, error)
	CountBannedFunc          func(ctx context.Context) (int64, error)
	CountWithPerkFunc        func(ctx context.Context, perk string) (int64, error)
	CountNewSinceFunc        func(ctx context.Context, since time.Time) (int64, error)
}

func (m *MockProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileRepository) GetByDisplayName(ctx context.Context, name string) (*models.Profile, error) {
	if m.GetByDisplayNameFunc != nil {
		return m.GetByDisplayNameFunc(ctx, name)
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileRepository) List(ctx context.Context, limit, offset int) ([]*models.Profile, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.Profile{}, nil
}

func (m *MockProfileRepository) Create(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return nil, models.ErrInternalServer
}

func (m *MockProfileRepository) UpdatePerks(ctx context.Context, id string, perks []string, activePerk string) error {
	if m.UpdatePerksFunc != nil {
		return m.UpdatePerksFunc(ctx, id, perks, activePerk)
	}
	return nil
}

func (m *MockProfileRepository) CallAdminUpdatePerks(ctx context.Context, id string, perks []string) error {
	if m.CallAdminUpdatePerksFunc != nil {
		return m.CallAdminUpdatePerksFunc(ctx, id, perks)
	}
	return nil
}

func (m *MockProfileRepository) WritePerkMirror(ctx context.Context, id string, raw string) error {
	if m.WritePerkMirrorFunc != nil {
		return m.WritePerkMirrorFunc(ctx, id, raw)
	}
	return nil
}

func (m *MockProfileRepository) SetDisplayName(ctx context.Context, id, name string) error {
	if m.SetDisplayNameFunc != nil {
		return m.SetDisplayNameFunc(ctx, id, name)
	}
	return nil
}

func (m *MockProfileRepository) SetAvatar(ctx context.Context, id, avatar string) error {
	if m.SetAvatarFunc != nil {
		return m.SetAvatarFunc(ctx, id, avatar)
	}
	return nil
}

func (m *MockProfileRepository) SetActivePerk(ctx context.Context, id, perk string) error {
	if m.SetActivePerkFunc != nil {
		return m.SetActivePerkFunc(ctx, id, perk)
	}
	return nil
}

func (m *MockProfileRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	if m.SetPasswordFunc != nil {
		return m.SetPasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockProfileRepository) SetBan(ctx context.Context, id, reason string, endAt *time.Time, adminID, adminName string) error {
	if m.SetBanFunc != nil {
		return m.SetBanFunc(ctx, id, reason, endAt, adminID, adminName)
	}
	return nil
}

func (m *MockProfileRepository) ClearBan(ctx context.Context, id string) error {
	if m.ClearBanFunc != nil {
		return m.ClearBanFunc(ctx, id)
	}
	return nil
}

func (m *MockProfileRepository) CountTotal(ctx context.Context) (int64, error) {
	if m.CountTotalFunc != nil {
		return m.CountTotalFunc(ctx)
	}
	return 0, nil
}

func (m *MockProfileRepository) CountBanned(ctx context.Context) (int64, error) {
	if m.CountBannedFunc != nil {
		return m.CountBannedFunc(ctx)
	}
	return 0, nil
}

func (m *MockProfileRepository) CountWithPerk(ctx context.Context, perk string) (int64, error) {
	if m.CountWithPerkFunc != nil {
		return m.CountWithPerkFunc(ctx, perk)
	}
	return 0, nil
}

func (m *MockProfileRepository) CountNewSince(ctx context.Context, since time.Time) (int64, error) {
	if m.CountNewSinceFunc != nil {
		return m.CountNewSinceFunc(ctx, since)
	}
	return 0, nil
}

// MockBanRecordRepository implements BanRecordRepository for testing
type MockBanRecordRepository struct {
	CreateFunc       func(ctx context.Context, rec *models.BanRecord) (*models.BanRecord, error)
	LatestActiveFunc func(ctx context.Context, userID string) (*models.BanRecord, error)
	DeactivateFunc   func(ctx context.Context, userID string) error
	ListByUserFunc   func(ctx context.Context, userID string, limit int) ([]*models.BanRecord, error)
}

func (m *MockBanRecordRepository) Create(ctx context.Context, rec *models.BanRecord) (*models.BanRecord, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	rec.ID = "ban_record_test"
	rec.IsActive = true
	return rec, nil
}

func (m *MockBanRecordRepository) LatestActive(ctx context.Context, userID string) (*models.BanRecord, error) {
	if m.LatestActiveFunc != nil {
		return m.LatestActiveFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockBanRecordRepository) Deactivate(ctx context.Context, userID string) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, userID)
	}
	return nil
}

func (m *MockBanRecordRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.BanRecord, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit)
	}
	return []*models.BanRecord{}, nil
}

// MemorySnapshotStore is an in-memory SessionSnapshotStore. Optional
// func fields override individual operations to inject failures.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]*models.SessionUser

	GetFunc    func(ctx context.Context, userID string) (*models.SessionUser, error)
	SaveFunc   func(ctx context.Context, u *models.SessionUser) error
	DeleteFunc func(ctx context.Context, userID string) error
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]*models.SessionUser)}
}

func (m *MemorySnapshotStore) Get(ctx context.Context, userID string) (*models.SessionUser, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.snapshots[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MemorySnapshotStore) Save(ctx context.Context, u *models.SessionUser) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *u
	m.snapshots[u.UserID] = &copied
	return nil
}

func (m *MemorySnapshotStore) Delete(ctx context.Context, userID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, userID)
	return nil
}

// MockBanChecker implements BanChecker for testing
type MockBanChecker struct {
	CheckBanFunc func(ctx context.Context, userID string) *models.BanStatus
}

func (m *MockBanChecker) CheckBan(ctx context.Context, userID string) *models.BanStatus {
	if m.CheckBanFunc != nil {
		return m.CheckBanFunc(ctx, userID)
	}
	return &models.BanStatus{Banned: false}
}

// MockTokenRevoker implements TokenRevoker for testing
type MockTokenRevoker struct {
	RevokeFunc func(ctx context.Context, jti string, ttl time.Duration) error
	Revoked    []string
}

func (m *MockTokenRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, jti, ttl)
	}
	m.Revoked = append(m.Revoked, jti)
	return nil
}

// MockSettingsRepository implements SettingsRepository for testing
type MockSettingsRepository struct {
	GetFunc                   func(ctx context.Context) (*models.SiteSettings, error)
	CreateFunc                func(ctx context.Context) (*models.SiteSettings, error)
	SetEarlyUserPromotionFunc func(ctx context.Context, enabled bool) error
}

func (m *MockSettingsRepository) Get(ctx context.Context) (*models.SiteSettings, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx)
	}
	return nil, models.ErrNotFound
}

func (m *MockSettingsRepository) Create(ctx context.Context) (*models.SiteSettings, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx)
	}
	return &models.SiteSettings{}, nil
}

func (m *MockSettingsRepository) SetEarlyUserPromotion(ctx context.Context, enabled bool) error {
	if m.SetEarlyUserPromotionFunc != nil {
		return m.SetEarlyUserPromotionFunc(ctx, enabled)
	}
	return nil
}

// MockSettingsProvider implements SettingsProvider for testing
type MockSettingsProvider struct {
	GetFunc func(ctx context.Context) (*models.SiteSettings, error)
}

func (m *MockSettingsProvider) Get(ctx context.Context) (*models.SiteSettings, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx)
	}
	return &models.SiteSettings{}, nil
}

// MockResetTokenRepository implements ResetTokenRepository for testing
type MockResetTokenRepository struct {
	CreateFunc        func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ConsumeFunc       func(ctx context.Context, tokenHash string) (string, error)
	DeleteExpiredFunc func(ctx context.Context) (int64, error)
}

func (m *MockResetTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, tokenHash, expiresAt)
	}
	return nil
}

func (m *MockResetTokenRepository) Consume(ctx context.Context, tokenHash string) (string, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, tokenHash)
	}
	return "", models.ErrResetTokenUsed
}

func (m *MockResetTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// fakeClock is a controllable time source for override-window and
// expiry tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// NewTestProfile builds a plain user profile
func NewTestProfile(id, email, name string) *models.Profile {
	now := time.Now()
	return &models.Profile{
		ID:          id,
		Email:       email,
		DisplayName: name,
		Perks:       []string{models.PerkUser},
		ActivePerk:  models.PerkUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTestAdminProfile builds a profile holding the admin perk
func NewTestAdminProfile(id, email, name string) *models.Profile {
	p := NewTestProfile(id, email, name)
	p.Perks = []string{models.PerkUser, models.PerkAdmin}
	return p
}

// NewTestBannedProfile builds a banned profile; a nil endAt means a
// permanent ban
func NewTestBannedProfile(id, email, name, reason string, endAt *time.Time) *models.Profile {
	p := NewTestProfile(id, email, name)
	adminID := "admin_1"
	adminName := "Moderator"
	p.IsBanned = true
	p.BanReason = &reason
	p.BanEndAt = endAt
	p.BanAdminID = &adminID
	p.BanAdminName = &adminName
	return p
}

func testAudit() *logger.AuditLogger {
	return logger.NewAuditLogger(slog.Default())
}
