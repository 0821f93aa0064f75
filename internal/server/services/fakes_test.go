package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/dbx"
	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server/config"
	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
	"github.com/dmitrijs2005/bhopmaps/internal/server/objectstore"
	mapsrepo "github.com/dmitrijs2005/bhopmaps/internal/server/repositories/maps"
	usersrepo "github.com/dmitrijs2005/bhopmaps/internal/server/repositories/users"
)

// --- users ---

type fakeUsersRepo struct {
	mu        sync.Mutex
	byID      map[string]*models.User
	createErr error
	updateErr error
	deleteErr error
	deleted   []string
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[string]*models.User{}}
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, existing := range f.byID {
		if existing.UserName == u.UserName {
			return nil, common.ErrConflict
		}
	}
	c := *u
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	f.byID[c.ID] = &c
	out := c
	return &out, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsersRepo) GetByUsername(_ context.Context, name string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.UserName == name {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) UpdateProfile(_ context.Context, id, username, avatar string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	for _, other := range f.byID {
		if other.ID != id && other.UserName == username {
			return nil, common.ErrConflict
		}
	}
	u.UserName, u.Avatar, u.UpdatedAt = username, avatar, time.Now()
	c := *u
	return &c, nil
}

func (f *fakeUsersRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// --- maps ---

type fakeMapsRepo struct {
	mu           sync.Mutex
	byID         map[string]*models.Map
	seq          int
	createErr    error
	// lostAckErr is returned after the record was stored, like a commit
	// whose acknowledgement never arrived.
	lostAckErr   error
	getErr       error
	beforeCreate func()
	staleKeys    bool
	incErr       error
	authorErr    error
	authorLimit  int64
	deleteErrFor map[string]error
}

func newFakeMapsRepo() *fakeMapsRepo {
	return &fakeMapsRepo{byID: map[string]*models.Map{}, authorLimit: -1, deleteErrFor: map[string]error{}}
}

func (f *fakeMapsRepo) put(m *models.Map) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	c := *m
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Unix(int64(f.seq), 0)
	}
	f.byID[c.ID] = &c
}

func (f *fakeMapsRepo) Create(_ context.Context, m *models.Map) (*models.Map, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	c := *m
	c.Downloads = 0
	f.put(&c)
	if f.lostAckErr != nil {
		return nil, f.lostAckErr
	}
	return f.GetByID(context.Background(), c.ID)
}

func (f *fakeMapsRepo) GetByID(_ context.Context, id string) (*models.Map, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	m, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *m
	return &c, nil
}

func (f *fakeMapsRepo) sorted(keep func(*models.Map) bool) []*models.Map {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Map, 0)
	for _, m := range f.byID {
		if keep(m) {
			c := *m
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Map) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

func (f *fakeMapsRepo) ListAll(context.Context) ([]*models.Map, error) {
	return f.sorted(func(*models.Map) bool { return true }), nil
}

func (f *fakeMapsRepo) ListByAuthor(_ context.Context, authorID string) ([]*models.Map, error) {
	return f.sorted(func(m *models.Map) bool { return m.AuthorID == authorID }), nil
}

func (f *fakeMapsRepo) ListObjectKeys(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	if f.staleKeys {
		return keys, nil
	}
	for _, m := range f.byID {
		keys = append(keys, m.ObjectKey)
	}
	return keys, nil
}

func (f *fakeMapsRepo) UpdateAuthor(_ context.Context, authorID, author string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authorErr != nil {
		return 0, f.authorErr
	}
	var n int64
	for _, m := range f.byID {
		if m.AuthorID == authorID && (f.authorLimit < 0 || n < f.authorLimit) {
			m.Author = author
			n++
		}
	}
	return n, nil
}

func (f *fakeMapsRepo) IncrementDownloads(_ context.Context, id string) (*models.Map, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incErr != nil {
		return nil, f.incErr
	}
	m, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	m.Downloads++
	c := *m
	return &c, nil
}

func (f *fakeMapsRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErrFor[id]; err != nil {
		return err
	}
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	m *fakeMapsRepo
}

func (r *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (r *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository        { return r.u }
func (r *fakeRepoManager) Maps(dbx.DBTX) mapsrepo.Repository          { return r.m }

// --- object store ---

type fakeStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	modified   map[string]time.Time
	seq        int
	putErr     error
	imageErr   error
	presignErr error
	deleteErr  error
	presigned  []string
	deleted    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, modified: map[string]time.Time{}}
}

func (f *fakeStore) PutObject(_ context.Context, data []byte, ext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.seq++
	key := fmt.Sprintf("%sobj-%03d%s", common.MapKeyPrefix, f.seq, ext)
	f.objects[key] = data
	f.modified[key] = time.Now()
	return key, nil
}

func (f *fakeStore) PutPublicImage(_ context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imageErr != nil {
		return "", f.imageErr
	}
	f.objects[common.ImageKeyPrefix+key] = data
	return f.PublicURL(common.ImageKeyPrefix + key), nil
}

func (f *fakeStore) SignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return "", f.presignErr
	}
	if _, ok := f.objects[key]; !ok {
		return "", common.ErrStoreUnavailable
	}
	f.presigned = append(f.presigned, key)
	return "https://signed.example/" + key + "?X-Amz-Signature=abc", nil
}

func (f *fakeStore) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.objects[key]; !ok {
		return common.ErrObjectNotFound
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) PublicURL(key string) string {
	return "https://cdn.example/bhopmaps/" + key
}

func (f *fakeStore) ListObjects(_ context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []objectstore.ObjectInfo
	for k, v := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objectstore.ObjectInfo{Key: k, Size: int64(len(v)), LastModified: f.modified[k]})
		}
	}
	return out, nil
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// --- janitor ---

type recordingScheduler struct {
	store *fakeStore
	mu    sync.Mutex
	keys  []string
}

func (r *recordingScheduler) Schedule(ctx context.Context, keys ...string) {
	r.mu.Lock()
	r.keys = append(r.keys, keys...)
	r.mu.Unlock()
	for _, k := range keys {
		_ = r.store.DeleteObject(ctx, k)
	}
}

// --- wiring ---

type env struct {
	db      *sql.DB
	mock    sqlmock.Sqlmock
	users   *fakeUsersRepo
	maps    *fakeMapsRepo
	store   *fakeStore
	janitor *recordingScheduler
	userSvc *UserService
	gate    *OwnershipGate
	mapSvc  *MapService
	cfg     *config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BcryptCost = bcrypt.MinCost
	cfg.SecretKey = "test-secret"

	e := &env{
		db:    db,
		mock:  mock,
		users: newFakeUsersRepo(),
		maps:  newFakeMapsRepo(),
		store: newFakeStore(),
		cfg:   cfg,
	}
	e.janitor = &recordingScheduler{store: e.store}
	rm := &fakeRepoManager{u: e.users, m: e.maps}
	e.userSvc = NewUserService(db, rm, cfg, logging.Nop())
	e.gate = NewOwnershipGate(db, rm, e.userSvc)
	e.mapSvc = NewMapService(db, rm, e.userSvc, e.gate, e.store, e.janitor, cfg, logging.Nop())
	return e
}

// register creates a user and returns it with a valid session token.
func (e *env) register(t *testing.T, name string) (*models.User, string) {
	t.Helper()
	u, err := e.userSvc.Register(context.Background(), name, "password123", "")
	if err != nil {
		t.Fatalf("Register(%s) error: %v", name, err)
	}
	token, err := e.userSvc.IssueSession(u.ID)
	if err != nil {
		t.Fatalf("IssueSession error: %v", err)
	}
	return u, token
}

func (e *env) upload(t *testing.T, token, name string) *models.Map {
	t.Helper()
	m, err := e.mapSvc.Upload(context.Background(), token, UploadInput{
		MapName: name,
		Data:    []byte("PK map bytes " + name),
	})
	if err != nil {
		t.Fatalf("Upload(%s) error: %v", name, err)
	}
	return m
}
