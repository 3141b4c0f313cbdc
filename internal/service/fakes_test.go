package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/theblackhat55/aria51a-sub006/internal/model"
	"github.com/theblackhat55/aria51a-sub006/internal/saml"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// In-memory repository fakes shared by the service tests. They mirror the
// behavior the gorm-backed repositories promise, including
// gorm.ErrRecordNotFound on misses.

type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// --- users ---

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*model.User
	failErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]*model.User{}}
}

func (r *fakeUserRepo) put(u model.User) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	stored := u
	r.users[u.ID] = &stored
	return &stored
}

func (r *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetBySAMLSubjectOrEmail(ctx context.Context, subjectID, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if subjectID != "" && u.SAMLSubjectID != nil && *u.SAMLSubjectID == subjectID {
			copied := *u
			return &copied, nil
		}
	}
	for _, u := range r.users {
		if email != "" && u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) List(ctx context.Context, page, limit int) ([]model.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user *model.User) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *fakeUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) IncrementFailedLogins(ctx context.Context, id uuid.UUID) (int, error) {
	if r.failErr != nil {
		return 0, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	u.FailedLoginAttempts++
	return u.FailedLoginAttempts, nil
}

func (r *fakeUserRepo) SetLockedUntil(ctx context.Context, id uuid.UUID, until *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.LockedUntil = until
	return nil
}

func (r *fakeUserRepo) ClearLockout(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.LockedUntil = nil
	u.FailedLoginAttempts = 0
	return nil
}

func (r *fakeUserRepo) ResetFailedLogins(ctx context.Context, id uuid.UUID, lastLogin time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.FailedLoginAttempts = 0
	u.LastLogin = &lastLogin
	return nil
}

// --- roles ---

type fakeRoleRepo struct {
	mu          sync.Mutex
	roles       map[uuid.UUID]*model.Role
	assignments []model.RoleAssignment
	failErr     error
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{roles: map[uuid.UUID]*model.Role{}}
}

func (r *fakeRoleRepo) put(role model.Role) *model.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	stored := role
	r.roles[role.ID] = &stored
	return &stored
}

func (r *fakeRoleRepo) addAssignment(a model.RoleAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments = append(r.assignments, a)
}

func (r *fakeRoleRepo) Create(ctx context.Context, role *model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	stored := *role
	r.roles[role.ID] = &stored
	return nil
}

func (r *fakeRoleRepo) Update(ctx context.Context, role *model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *role
	r.roles[role.ID] = &stored
	return nil
}

func (r *fakeRoleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles, id)
	return nil
}

func (r *fakeRoleRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *role
	return &copied, nil
}

func (r *fakeRoleRepo) FindByName(ctx context.Context, name string) (*model.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if role.Name == name {
			copied := *role
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRoleRepo) ListAll(ctx context.Context) ([]model.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, *role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeRoleRepo) UpsertAssignment(ctx context.Context, assignment *model.RoleAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.assignments {
		if r.assignments[i].UserID == assignment.UserID && r.assignments[i].RoleID == assignment.RoleID {
			r.assignments[i].AssignedBy = assignment.AssignedBy
			r.assignments[i].AssignedAt = assignment.AssignedAt
			r.assignments[i].ExpiresAt = assignment.ExpiresAt
			return nil
		}
	}
	r.assignments = append(r.assignments, *assignment)
	return nil
}

func (r *fakeRoleRepo) DeleteAssignment(ctx context.Context, userID, roleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.assignments[:0]
	for _, a := range r.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			continue
		}
		kept = append(kept, a)
	}
	r.assignments = kept
	return nil
}

func (r *fakeRoleRepo) ListActiveAssignments(ctx context.Context, userID uuid.UUID) ([]model.RoleAssignment, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []model.RoleAssignment
	for _, a := range r.assignments {
		if a.UserID != userID || !a.Active(now) {
			continue
		}
		if role, ok := r.roles[a.RoleID]; ok {
			a.Role = *role
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

// --- audit ---

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (r *fakeAuditRepo) Log(ctx context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *entry
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	r.entries = append(r.entries, stored)
	return nil
}

func (r *fakeAuditRepo) List(ctx context.Context, page, limit int) ([]model.AuditLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditLog, len(r.entries))
	copy(out, r.entries)
	return out, int64(len(out)), nil
}

func (r *fakeAuditRepo) countAction(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (r *fakeAuditRepo) lastAction(action string) *model.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Action == action {
			e := r.entries[i]
			return &e
		}
	}
	return nil
}

// --- saml config and group mappings ---

type fakeSAMLRepo struct {
	mu       sync.Mutex
	cfg      *model.SAMLConfig
	mappings map[string]*model.GroupRoleMapping
}

func newFakeSAMLRepo(cfg *model.SAMLConfig) *fakeSAMLRepo {
	return &fakeSAMLRepo{cfg: cfg, mappings: map[string]*model.GroupRoleMapping{}}
}

func (r *fakeSAMLRepo) GetConfig(ctx context.Context) (*model.SAMLConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg == nil {
		r.cfg = &model.SAMLConfig{
			Enabled:                 false,
			AutoProvision:           true,
			RequireSignedAssertions: true,
			DefaultRole:             "user",
			AttributeMapping:        model.AttributeMapping{},
		}
	}
	return r.cfg, nil
}

func (r *fakeSAMLRepo) SaveConfig(ctx context.Context, cfg *model.SAMLConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	return nil
}

func (r *fakeSAMLRepo) ListGroupMappings(ctx context.Context) ([]model.GroupRoleMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.GroupRoleMapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupName < out[j].GroupName })
	return out, nil
}

func (r *fakeSAMLRepo) FindGroupMapping(ctx context.Context, groupName string) (*model.GroupRoleMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[groupName]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *fakeSAMLRepo) UpsertGroupMapping(ctx context.Context, mapping *model.GroupRoleMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	stored := *mapping
	r.mappings[mapping.GroupName] = &stored
	return nil
}

func (r *fakeSAMLRepo) DeleteGroupMapping(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, m := range r.mappings {
		if m.ID == id {
			delete(r.mappings, name)
			return nil
		}
	}
	return nil
}

// --- assertion validator ---

type fakeValidator struct {
	identity *saml.FederatedIdentity
	err      error
}

func (v *fakeValidator) ValidateAndParse(rawResponse string) (*saml.FederatedIdentity, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.identity, nil
}

func (v *fakeValidator) LoginURL(relayState string) (string, error) {
	return "https://idp.example.com/sso?RelayState=" + relayState, nil
}

func (v *fakeValidator) Metadata() ([]byte, error) {
	return []byte("<EntityDescriptor/>"), nil
}

func factoryFor(v saml.AssertionValidator) ValidatorFactory {
	return func(cfg *model.SAMLConfig) (saml.AssertionValidator, error) {
		return v, nil
	}
}
