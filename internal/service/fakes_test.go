package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/1905060202/image-ai-processor/internal/models"
	"github.com/1905060202/image-ai-processor/internal/provider"
	"github.com/1905060202/image-ai-processor/internal/repository"
)

// fakeUserStore keeps users in memory; the fake ledger mutates the same map so
// gate checks observe settled balances.
type fakeUserStore struct {
	users  map[int64]*models.User
	nextID int64
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[int64]*models.User), nextID: 1}
	for _, u := range users {
		if u.ID == 0 {
			u.ID = s.nextID
		}
		if u.ID >= s.nextID {
			s.nextID = u.ID + 1
		}
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) FindByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *fakeUserStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeUserStore) Create(_ context.Context, user *models.User) (*models.User, error) {
	user.ID = s.nextID
	s.nextID++
	copied := *user
	s.users[user.ID] = &copied
	return user, nil
}

func (s *fakeUserStore) List(_ context.Context, search string, limit, offset int) ([]models.User, int, error) {
	var out []models.User
	for _, u := range s.users {
		if search == "" || strings.Contains(u.Username, search) {
			out = append(out, *u)
		}
	}
	return out, len(out), nil
}

// fakeLedger mirrors the conditional-UPDATE semantics of the real repository:
// a settle whose precondition no longer holds charges nothing.
type fakeLedger struct {
	users     *fakeUserStore
	usage     []models.UsageRecord
	recharges []models.RechargeRecord
	settleErr error
}

func (l *fakeLedger) Settle(_ context.Context, userID int64, op models.OperationType, cost int, useFree bool, freeLimit int, imageID *int64) (models.SettleOutcome, error) {
	if l.settleErr != nil {
		return models.SettleOutcome{}, l.settleErr
	}
	user, ok := l.users.users[userID]
	if !ok {
		return models.SettleOutcome{}, fmt.Errorf("user %d not found", userID)
	}

	outcome := models.SettleOutcome{UsedFree: useFree, Cost: cost}
	if useFree {
		if user.FreeT2ICount >= freeLimit {
			return models.SettleOutcome{}, repository.ErrNotCharged
		}
		user.FreeT2ICount++
		outcome.Cost = 0
	} else if cost > 0 {
		if user.Credits < cost {
			return models.SettleOutcome{}, repository.ErrNotCharged
		}
		user.Credits -= cost
	}

	l.usage = append(l.usage, models.UsageRecord{
		UserID:  userID,
		Type:    op,
		Cost:    outcome.Cost,
		IsFree:  useFree,
		ImageID: imageID,
	})
	outcome.Charged = true
	outcome.Credits = user.Credits
	return outcome, nil
}

func (l *fakeLedger) Recharge(_ context.Context, userID int64, amount int, operatorID *int64, reason string) (int, error) {
	user, ok := l.users.users[userID]
	if !ok {
		return 0, fmt.Errorf("user %d not found", userID)
	}
	user.Credits += amount
	l.recharges = append(l.recharges, models.RechargeRecord{UserID: userID, Amount: amount, OperatorID: operatorID, Reason: reason})
	return user.Credits, nil
}

func (l *fakeLedger) UsageRecords(_ context.Context, userID int64, limit, offset int) ([]models.UsageRecord, int, error) {
	var out []models.UsageRecord
	for _, rec := range l.usage {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, len(out), nil
}

type fakeImageStore struct {
	created   []*models.Image
	nextID    int64
	createErr error
}

func (s *fakeImageStore) Create(_ context.Context, img *models.Image) (*models.Image, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	img.ID = s.nextID
	s.created = append(s.created, img)
	return img, nil
}

type fakeArtifactStore struct {
	uploads   map[string][]byte
	deleted   []string
	uploadErr error
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{uploads: make(map[string][]byte)}
}

func (s *fakeArtifactStore) Upload(_ context.Context, filename string, data []byte, _ string) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.uploads[filename] = data
	return "https://cdn.test/" + filename, nil
}

func (s *fakeArtifactStore) Delete(_ context.Context, filename string) error {
	delete(s.uploads, filename)
	s.deleted = append(s.deleted, filename)
	return nil
}

func (s *fakeArtifactStore) Rename(_ context.Context, oldFilename, newFilename string) error {
	data, ok := s.uploads[oldFilename]
	if !ok {
		return errors.New("object not found")
	}
	delete(s.uploads, oldFilename)
	s.uploads[newFilename] = data
	return nil
}

func (s *fakeArtifactStore) PublicURL(filename string) string {
	return "https://cdn.test/" + filename
}

// fakeClient is a provider stub returning a canned payload or failure.
type fakeClient struct {
	payload    *provider.Payload
	err        error
	textCalls  int
	imageCalls int
}

func (c *fakeClient) Generate(_ context.Context, _ string, _ provider.Options) (*provider.Payload, error) {
	c.textCalls++
	if c.err != nil {
		return nil, c.err
	}
	return c.payload, nil
}

func (c *fakeClient) GenerateFromImages(_ context.Context, _ []string, _ string, _ provider.Options) (*provider.Payload, error) {
	c.imageCalls++
	if c.err != nil {
		return nil, c.err
	}
	return c.payload, nil
}
