package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeStore is an in-memory Store for tests: ids and timestamps are assigned
// at insert, monotonically, the way the real store does.
type fakeStore struct {
	mu       sync.Mutex
	deals    map[int64]*Deal
	accounts map[int64]*Account
	messages []*Message
	nextID   int64
	clock    time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deals:    make(map[int64]*Deal),
		accounts: make(map[int64]*Account),
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) addDeal(d *Deal)       { f.deals[d.ID] = d }
func (f *fakeStore) addAccount(a *Account) { f.accounts[a.ID] = a }

func (f *fakeStore) GetDeal(_ context.Context, id int64) (*Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deals[id], nil
}

func (f *fakeStore) GetAccount(_ context.Context, id int64) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f *fakeStore) InsertMessage(_ context.Context, key ChannelKey, senderID, recipientID int64, content string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	msg := &Message{
		ID:          f.nextID,
		DealID:      key.DealID,
		ConsumerID:  key.ConsumerID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   f.clock,
	}
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeStore) ListMessages(_ context.Context, key ChannelKey, participants []int64) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make(map[int64]bool, len(participants))
	for _, id := range participants {
		members[id] = true
	}
	var out []*Message
	for _, m := range f.messages {
		if m.DealID == key.DealID && m.ConsumerID == key.ConsumerID &&
			members[m.SenderID] && members[m.RecipientID] {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeStore) ListChats(_ context.Context, accountID int64) ([]*ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[ChannelKey]*Message)
	for _, m := range f.messages {
		deal := f.deals[m.DealID]
		if deal == nil {
			continue
		}
		if deal.SellerID != accountID && m.SenderID != accountID && m.RecipientID != accountID {
			continue
		}
		key := m.Channel()
		if cur, ok := latest[key]; !ok || m.CreatedAt.After(cur.CreatedAt) {
			latest[key] = m
		}
	}
	var chats []*ChatSummary
	for key, m := range latest {
		deal := f.deals[key.DealID]
		summary := &ChatSummary{
			DealID:        key.DealID,
			ConsumerID:    key.ConsumerID,
			NameDeal:      deal.Name,
			LastMessage:   &m.Content,
			LastMessageAt: &m.CreatedAt,
			Participants:  map[string]string{},
			IsPurchaser:   key.ConsumerID == accountID,
		}
		if seller := f.accounts[deal.SellerID]; seller != nil {
			summary.Participants["seller"] = seller.Email
		} else {
			summary.Participants["seller"] = "Удаленный аккаунт"
		}
		if consumer := f.accounts[key.ConsumerID]; consumer != nil {
			summary.Participants["consumer"] = consumer.Email
		} else {
			summary.Participants["consumer"] = "Удаленный аккаунт"
		}
		chats = append(chats, summary)
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].DealID != chats[j].DealID {
			return chats[i].DealID < chats[j].DealID
		}
		return chats[i].ConsumerID < chats[j].ConsumerID
	})
	return chats, nil
}
