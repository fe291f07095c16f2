package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gopherdm/internal/model"
	"gopherdm/internal/platform/database"
	"gopherdm/internal/repository"
)

type recordingPublisher struct {
	mu    sync.Mutex
	rooms []uint
	msgs  []model.Message
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, roomUserID uint, msg model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, roomUserID)
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

var errBrokerDown = errors.New("broker down")

type fixture struct {
	db       *gorm.DB
	users    *repository.UserRepository
	messages *repository.MessageRepository
	alice    model.User
	bob      model.User
	carol    model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	f := &fixture{
		db:       db,
		users:    repository.NewUserRepository(db),
		messages: repository.NewMessageRepository(db),
	}
	f.alice = seedUser(t, f.users, "alice")
	f.bob = seedUser(t, f.users, "bob")
	f.carol = seedUser(t, f.users, "carol")
	return f
}

func seedUser(t *testing.T, repo *repository.UserRepository, username string) model.User {
	t.Helper()
	user := model.User{Username: username, PasswordHash: "x"}
	require.NoError(t, repo.Create(context.Background(), &user))
	return user
}

// fixedClock returns the same instant on every call.
func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
