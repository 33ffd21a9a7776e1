package chat

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the relational contract the chat consumes. Messages are
// append-only; InsertMessage returns the row as persisted, with the
// store-assigned id and timestamp.
type Store interface {
	GetDeal(ctx context.Context, id int64) (*Deal, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	InsertMessage(ctx context.Context, key ChannelKey, senderID, recipientID int64, content string) (*Message, error)
	ListMessages(ctx context.Context, key ChannelKey, participants []int64) ([]*Message, error)
	ListChats(ctx context.Context, accountID int64) ([]*ChatSummary, error)
}

type DbClient struct {
	Pool *pgxpool.Pool
}

func NewDbClient(dsn string, maxconns int, minconns int) (*DbClient, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxconns > 0 {
		config.MaxConns = int32(maxconns)
	}
	if minconns > 0 {
		config.MinConns = int32(minconns)
	}
	config.HealthCheckPeriod = 60 * time.Second

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}
	if err = pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return &DbClient{pool}, nil
}

var _ Store = (*DbClient)(nil)

func (db *DbClient) GetDeal(ctx context.Context, id int64) (*Deal, error) {
	row := db.Pool.QueryRow(ctx,
		`select id, seller_id, name_deal from deals where id = $1`, id)
	var deal Deal
	if err := row.Scan(&deal.ID, &deal.SellerID, &deal.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &deal, nil
}

func (db *DbClient) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := db.Pool.QueryRow(ctx,
		`select id, email from accounts where id = $1`, id)
	var account Account
	if err := row.Scan(&account.ID, &account.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (db *DbClient) InsertMessage(ctx context.Context, key ChannelKey, senderID, recipientID int64, content string) (*Message, error) {
	msg := Message{
		DealID:      key.DealID,
		ConsumerID:  key.ConsumerID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	}
	row := db.Pool.QueryRow(ctx,
		`insert into messages (deal_id, consumer_id, sender_id, recipient_id, content)
		 values ($1, $2, $3, $4, $5)
		 returning id, created_at`,
		key.DealID, key.ConsumerID, senderID, recipientID, content)
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the channel history ordered by creation time. Only
// rows whose (sender, recipient) pair is a permutation of the participant
// set are returned; rows left behind by a reassigned deal are not.
func (db *DbClient) ListMessages(ctx context.Context, key ChannelKey, participants []int64) ([]*Message, error) {
	rows, err := db.Pool.Query(ctx,
		`select id, deal_id, consumer_id, sender_id, recipient_id, content, created_at
		 from messages
		 where deal_id = $1 and consumer_id = $2
		   and sender_id = any($3) and recipient_id = any($3)
		 order by created_at asc`,
		key.DealID, key.ConsumerID, participants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.DealID, &m.ConsumerID, &m.SenderID,
			&m.RecipientID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// ListChats returns one row per (deal, consumer) pair the account takes part
// in, carrying the latest message of each pair.
func (db *DbClient) ListChats(ctx context.Context, accountID int64) ([]*ChatSummary, error) {
	rows, err := db.Pool.Query(ctx,
		`select distinct on (m.deal_id, m.consumer_id)
		        m.deal_id, m.consumer_id, d.name_deal, m.content, m.created_at,
		        s.email, c.email,
		        exists(select 1 from deal_consumers dc
		               where dc.deal_id = m.deal_id and dc.consumer_id = m.consumer_id)
		 from messages m
		 join deals d on d.id = m.deal_id
		 left join accounts s on s.id = d.seller_id
		 left join accounts c on c.id = m.consumer_id
		 where d.seller_id = $1 or m.sender_id = $1 or m.recipient_id = $1
		 order by m.deal_id, m.consumer_id, m.created_at desc`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*ChatSummary
	for rows.Next() {
		var (
			summary       ChatSummary
			content       *string
			createdAt     *time.Time
			sellerEmail   *string
			consumerEmail *string
		)
		if err := rows.Scan(&summary.DealID, &summary.ConsumerID, &summary.NameDeal,
			&content, &createdAt, &sellerEmail, &consumerEmail, &summary.IsPurchaser); err != nil {
			return nil, err
		}
		summary.LastMessage = content
		summary.LastMessageAt = createdAt
		summary.Participants = map[string]string{
			"seller":   emailOrDeleted(sellerEmail),
			"consumer": emailOrDeleted(consumerEmail),
		}
		chats = append(chats, &summary)
	}
	return chats, rows.Err()
}

func emailOrDeleted(email *string) string {
	if email == nil {
		return "Удаленный аккаунт"
	}
	return *email
}
