package chat

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
)

// Participants returns the accounts allowed to use the channel: the deal's
// seller and the path consumer. The set always has exactly two members for a
// valid channel, since a seller never chats with themselves.
func Participants(deal *Deal, consumerID int64) mapset.Set[int64] {
	return mapset.NewSet(deal.SellerID, consumerID)
}

// Recipient computes the other participant for a message sent by senderID.
func Recipient(deal *Deal, consumerID, senderID int64) int64 {
	if senderID == deal.SellerID {
		return consumerID
	}
	return deal.SellerID
}

// Authorize is the single membership gate a connection passes before it is
// attached: the deal must exist, the consumer account must exist, and the
// authenticated account must be one of the two participants.
func Authorize(ctx context.Context, store Store, key ChannelKey, accountID int64) (*Deal, *Account, error) {
	deal, err := store.GetDeal(ctx, key.DealID)
	if err != nil {
		return nil, nil, Error{Kind: DependencyFault, Message: "Ошибка при проверке сделки"}
	}
	if deal == nil {
		return nil, nil, Error{Kind: AuthzError, Message: "Сделка не найдена"}
	}
	consumer, err := store.GetAccount(ctx, key.ConsumerID)
	if err != nil {
		return nil, nil, Error{Kind: DependencyFault, Message: "Ошибка при проверке пользователя"}
	}
	if consumer == nil {
		return nil, nil, Error{Kind: AuthzError, Message: "Указанный пользователь не найден"}
	}
	if !Participants(deal, key.ConsumerID).Contains(accountID) {
		return nil, nil, Error{Kind: AuthzError, Message: "Отказано в доступе"}
	}
	return deal, consumer, nil
}
