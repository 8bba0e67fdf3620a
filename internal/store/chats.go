package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// chatSource is the subset of a store CollectChats reads from.
type chatSource interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListConversation(ctx context.Context, a, b string, limit, offset int) ([]*Message, error)
	CountUnread(ctx context.Context, sender, recipient string) (int, error)
}

// CollectChats builds chat summaries for email against each partner.
// Partners whose account no longer exists keep an empty profile.
func CollectChats(ctx context.Context, src chatSource, email string, partners []string) ([]*ChatSummary, error) {
	chats := make([]*ChatSummary, 0, len(partners))
	for _, other := range partners {
		chat := &ChatSummary{OtherEmail: other}

		last, err := src.ListConversation(ctx, email, other, 1, 0)
		if err != nil {
			return nil, fmt.Errorf("last message with %s: %w", other, err)
		}
		if len(last) == 0 {
			continue
		}
		chat.LastMessage = last[0].Content
		chat.LastMessageTime = last[0].Timestamp

		if chat.UnreadCount, err = src.CountUnread(ctx, other, email); err != nil {
			return nil, err
		}

		u, err := src.GetUserByEmail(ctx, other)
		switch {
		case err == nil:
			chat.OtherUsername = u.Username
			chat.OtherAvatarURL = u.AvatarURL
			chat.OtherIsOnline = u.IsOnline
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}

		chats = append(chats, chat)
	}

	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessageTime.After(chats[j].LastMessageTime)
	})
	return chats, nil
}
