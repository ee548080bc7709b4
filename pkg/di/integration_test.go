package di

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-intercept/pkg/testsupport"
	"github.com/goliatone/go-intercept/repositoryproxy"
)

var errUserNotFound = errors.New("user not found")

// User is the model used by the integration tests.
type User struct {
	ID       string `json:"id" bun:"id,pk"`
	Name     string `json:"name" bun:"name"`
	Email    string `json:"email" bun:"email"`
	CreateTs int64  `json:"create_ts" bun:"create_ts"`
}

// mockUserRepository is an in-memory repository that counts calls per method.
type mockUserRepository struct {
	mu        sync.RWMutex
	users     map[string]User
	callCount map[string]int
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users:     make(map[string]User),
		callCount: make(map[string]int),
	}
}

func (m *mockUserRepository) trackCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount[method]++
}

func (m *mockUserRepository) seed(users ...User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		m.users[u.ID] = u
	}
}

func (m *mockUserRepository) getCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount[method]
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (User, error) {
	m.trackCall("GetByID")
	m.mu.RLock()
	user, exists := m.users[id]
	m.mu.RUnlock()
	if !exists {
		return User{}, errUserNotFound
	}
	return user, nil
}

func (m *mockUserRepository) Get(ctx context.Context, criteria ...repository.SelectCriteria) (User, error) {
	m.trackCall("Get")
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		return user, nil
	}
	return User{}, errUserNotFound
}

func (m *mockUserRepository) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]User, int, error) {
	m.trackCall("List")
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	return users, len(users), nil
}

func (m *mockUserRepository) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	m.trackCall("Count")
	m.mu.RLock()
	count := len(m.users)
	m.mu.RUnlock()
	return count, nil
}

func (m *mockUserRepository) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (User, error) {
	m.trackCall("GetByIdentifier")
	return m.GetByID(ctx, identifier, criteria...)
}

func (m *mockUserRepository) Create(ctx context.Context, user User, criteria ...repository.InsertCriteria) (User, error) {
	m.trackCall("Create")
	if user.CreateTs == 0 {
		user.CreateTs = time.Now().Unix()
	}
	m.mu.Lock()
	m.users[user.ID] = user
	m.mu.Unlock()
	return user, nil
}

func (m *mockUserRepository) Update(ctx context.Context, user User, criteria ...repository.UpdateCriteria) (User, error) {
	m.trackCall("Update")
	m.mu.Lock()
	m.users[user.ID] = user
	m.mu.Unlock()
	return user, nil
}

func (m *mockUserRepository) Delete(ctx context.Context, user User) error {
	m.trackCall("Delete")
	m.mu.Lock()
	delete(m.users, user.ID)
	m.mu.Unlock()
	return nil
}

func (m *mockUserRepository) CreateTx(ctx context.Context, tx bun.IDB, record User, criteria ...repository.InsertCriteria) (User, error) {
	return m.Create(ctx, record, criteria...)
}
func (m *mockUserRepository) CreateMany(ctx context.Context, records []User, criteria ...repository.InsertCriteria) ([]User, error) {
	for _, record := range records {
		m.Create(ctx, record, criteria...)
	}
	return records, nil
}
func (m *mockUserRepository) CreateManyTx(ctx context.Context, tx bun.IDB, records []User, criteria ...repository.InsertCriteria) ([]User, error) {
	return m.CreateMany(ctx, records, criteria...)
}
func (m *mockUserRepository) GetOrCreate(ctx context.Context, record User) (User, error) {
	m.mu.RLock()
	if existing, exists := m.users[record.ID]; exists {
		m.mu.RUnlock()
		return existing, nil
	}
	m.mu.RUnlock()
	return m.Create(ctx, record)
}
func (m *mockUserRepository) GetOrCreateTx(ctx context.Context, tx bun.IDB, record User) (User, error) {
	return m.GetOrCreate(ctx, record)
}
func (m *mockUserRepository) UpdateTx(ctx context.Context, tx bun.IDB, record User, criteria ...repository.UpdateCriteria) (User, error) {
	return m.Update(ctx, record, criteria...)
}
func (m *mockUserRepository) UpdateMany(ctx context.Context, records []User, criteria ...repository.UpdateCriteria) ([]User, error) {
	for _, record := range records {
		m.Update(ctx, record, criteria...)
	}
	return records, nil
}
func (m *mockUserRepository) UpdateManyTx(ctx context.Context, tx bun.IDB, records []User, criteria ...repository.UpdateCriteria) ([]User, error) {
	return m.UpdateMany(ctx, records, criteria...)
}
func (m *mockUserRepository) Upsert(ctx context.Context, record User, criteria ...repository.UpdateCriteria) (User, error) {
	return m.Update(ctx, record, criteria...)
}
func (m *mockUserRepository) UpsertTx(ctx context.Context, tx bun.IDB, record User, criteria ...repository.UpdateCriteria) (User, error) {
	return m.Upsert(ctx, record, criteria...)
}
func (m *mockUserRepository) UpsertMany(ctx context.Context, records []User, criteria ...repository.UpdateCriteria) ([]User, error) {
	return m.UpdateMany(ctx, records, criteria...)
}
func (m *mockUserRepository) UpsertManyTx(ctx context.Context, tx bun.IDB, records []User, criteria ...repository.UpdateCriteria) ([]User, error) {
	return m.UpsertMany(ctx, records, criteria...)
}
func (m *mockUserRepository) DeleteTx(ctx context.Context, tx bun.IDB, record User) error {
	return m.Delete(ctx, record)
}
func (m *mockUserRepository) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	m.trackCall("DeleteMany")
	m.mu.Lock()
	m.users = make(map[string]User)
	m.mu.Unlock()
	return nil
}
func (m *mockUserRepository) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return m.DeleteMany(ctx, criteria...)
}
func (m *mockUserRepository) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return m.DeleteMany(ctx, criteria...)
}
func (m *mockUserRepository) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return m.DeleteWhere(ctx, criteria...)
}
func (m *mockUserRepository) ForceDelete(ctx context.Context, record User) error {
	return m.Delete(ctx, record)
}
func (m *mockUserRepository) ForceDeleteTx(ctx context.Context, tx bun.IDB, record User) error {
	return m.ForceDelete(ctx, record)
}
func (m *mockUserRepository) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (User, error) {
	return m.Get(ctx, criteria...)
}
func (m *mockUserRepository) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (User, error) {
	return m.GetByID(ctx, id, criteria...)
}
func (m *mockUserRepository) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]User, int, error) {
	return m.List(ctx, criteria...)
}
func (m *mockUserRepository) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return m.Count(ctx, criteria...)
}
func (m *mockUserRepository) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (User, error) {
	return m.GetByIdentifier(ctx, identifier, criteria...)
}
func (m *mockUserRepository) Raw(ctx context.Context, sql string, args ...any) ([]User, error) {
	m.trackCall("Raw")
	return nil, errors.New("raw queries not supported in mock")
}
func (m *mockUserRepository) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]User, error) {
	return m.Raw(ctx, sql, args...)
}
func (m *mockUserRepository) Handlers() repository.ModelHandlers[User] {
	return repository.ModelHandlers[User]{}
}

var _ repository.Repository[User] = (*mockUserRepository)(nil)


func seededRepository(t *testing.T) *mockUserRepository {
	t.Helper()
	var users []User
	testsupport.LoadFixtureJSON(t, testsupport.FixturePath("users.json"), &users)
	repo := newMockUserRepository()
	repo.seed(users...)
	return repo
}

func TestEndToEndInterceptedRepositoryFlow(t *testing.T) {
	container := newTestContainer(t, testConfig())
	mockRepo := seededRepository(t)

	users, err := NewInterceptedRepository(container, repository.Repository[User](mockRepo))
	if err != nil {
		t.Fatalf("NewInterceptedRepository() failed: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		user, err := users.GetByID(ctx, "user-1")
		if err != nil {
			t.Fatalf("GetByID #%d failed: %v", i+1, err)
		}
		if user.Name != "Ada Lovelace" {
			t.Errorf("GetByID #%d returned %+v", i+1, user)
		}
	}
	if callCount := mockRepo.getCallCount("GetByID"); callCount != 1 {
		t.Errorf("Expected base repository GetByID to be called once, got %d calls", callCount)
	}

	for i := 0; i < 2; i++ {
		list, total, err := users.List(ctx)
		if err != nil {
			t.Fatalf("List #%d failed: %v", i+1, err)
		}
		if len(list) != 3 || total != 3 {
			t.Errorf("List #%d returned %d users, total %d", i+1, len(list), total)
		}
	}
	if callCount := mockRepo.getCallCount("List"); callCount != 1 {
		t.Errorf("Expected base repository List to be called once, got %d calls", callCount)
	}

	for i := 0; i < 2; i++ {
		count, err := users.Count(ctx)
		if err != nil {
			t.Fatalf("Count #%d failed: %v", i+1, err)
		}
		if count != 3 {
			t.Errorf("Count #%d returned %d", i+1, count)
		}
	}
	if callCount := mockRepo.getCallCount("Count"); callCount != 1 {
		t.Errorf("Expected base repository Count to be called once, got %d calls", callCount)
	}
}

func TestCacheExpiryFlow(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.TTL = 50 * time.Millisecond
	container := newTestContainer(t, cfg)
	mockRepo := seededRepository(t)

	users, err := NewInterceptedRepository[User](container, mockRepo)
	if err != nil {
		t.Fatalf("NewInterceptedRepository() failed: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := users.GetByID(ctx, "user-2"); err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
	}
	if callCount := mockRepo.getCallCount("GetByID"); callCount != 1 {
		t.Errorf("Expected one base call before expiry, got %d", callCount)
	}

	time.Sleep(120 * time.Millisecond)

	if _, err := users.GetByID(ctx, "user-2"); err != nil {
		t.Fatalf("GetByID after expiry failed: %v", err)
	}
	if callCount := mockRepo.getCallCount("GetByID"); callCount != 2 {
		t.Errorf("Expected a second base call after expiry, got %d", callCount)
	}
}

func TestWritesInvalidateReads(t *testing.T) {
	container := newTestContainer(t, testConfig())
	mockRepo := seededRepository(t)

	users, err := NewInterceptedRepository[User](container, mockRepo)
	if err != nil {
		t.Fatalf("NewInterceptedRepository() failed: %v", err)
	}
	ctx := context.Background()

	user, err := users.GetByID(ctx, "user-3")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if _, err := users.Count(ctx); err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	user.Name = "Rear Admiral Grace Hopper"
	if _, err := users.Update(ctx, user); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if callCount := mockRepo.getCallCount("Update"); callCount != 1 {
		t.Errorf("Expected base repository Update to be called once, got %d calls", callCount)
	}

	fresh, err := users.GetByID(ctx, "user-3")
	if err != nil {
		t.Fatalf("GetByID after update failed: %v", err)
	}
	if fresh.Name != "Rear Admiral Grace Hopper" {
		t.Errorf("Expected the updated name, got %q", fresh.Name)
	}
	if callCount := mockRepo.getCallCount("GetByID"); callCount != 2 {
		t.Errorf("Expected GetByID to reach the base after update, got %d calls", callCount)
	}

	if _, err := users.Create(ctx, User{ID: "user-4", Name: "Barbara Liskov"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	count, err := users.Count(ctx)
	if err != nil {
		t.Fatalf("Count after create failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected count 4 after create, got %d", count)
	}

	if err := users.Delete(ctx, fresh); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := users.GetByID(ctx, "user-3"); !errors.Is(err, errUserNotFound) {
		t.Errorf("Expected errUserNotFound after delete, got %v", err)
	}
}

func TestErrorPropagation(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 3
	container := newTestContainer(t, cfg)
	mockRepo := newMockUserRepository()

	users, err := NewInterceptedRepository[User](container, mockRepo)
	if err != nil {
		t.Fatalf("NewInterceptedRepository() failed: %v", err)
	}
	ctx := context.Background()

	_, err = users.GetByID(ctx, "non-existent")
	if !errors.Is(err, errUserNotFound) {
		t.Fatalf("Expected errUserNotFound, got %v", err)
	}
	if callCount := mockRepo.getCallCount("GetByID"); callCount != 3 {
		t.Errorf("Expected the failing read to be retried to the limit, got %d calls", callCount)
	}

	_, err = users.GetByID(ctx, "non-existent")
	if !errors.Is(err, errUserNotFound) {
		t.Fatalf("Expected errUserNotFound again, got %v", err)
	}
	if callCount := mockRepo.getCallCount("GetByID"); callCount != 6 {
		t.Errorf("Errors must not be cached, got %d calls", callCount)
	}
}

func TestNamespacesIsolateCaches(t *testing.T) {
	container := newTestContainer(t, testConfig())
	activeRepo := seededRepository(t)
	archivedRepo := newMockUserRepository()
	archivedRepo.seed(User{ID: "user-1", Name: "Ada King"})

	active, err := NewInterceptedRepository[User](container, activeRepo)
	if err != nil {
		t.Fatalf("NewInterceptedRepository() failed: %v", err)
	}
	archived, err := NewInterceptedRepository[User](container, archivedRepo, repositoryproxy.WithNamespace("archived_user"))
	if err != nil {
		t.Fatalf("NewInterceptedRepository() failed: %v", err)
	}

	if active.Namespace() != "user" || archived.Namespace() != "archived_user" {
		t.Errorf("Unexpected namespaces %q and %q", active.Namespace(), archived.Namespace())
	}

	ctx := context.Background()
	a, err := active.GetByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("active GetByID failed: %v", err)
	}
	b, err := archived.GetByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("archived GetByID failed: %v", err)
	}

	if a.Name != "Ada Lovelace" || b.Name != "Ada King" {
		t.Errorf("Caches leaked across namespaces: %q and %q", a.Name, b.Name)
	}
	if archivedRepo.getCallCount("GetByID") != 1 {
		t.Errorf("Expected the archived base to be called once, got %d", archivedRepo.getCallCount("GetByID"))
	}
}
