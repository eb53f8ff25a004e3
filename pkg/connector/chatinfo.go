// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"

	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
)

// fetchThread fetches one thread's full metadata plus its most recent
// message page over GraphQL.
func (m *MetaClient) fetchThread(ctx context.Context, threadID string) (*msgrapihttp.Thread, error) {
	resp, err := m.http.GraphQL(ctx, msgrapihttp.ThreadQuery{ThreadIDs: []string{threadID}, MsgCount: 20}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread: %w", err)
	}
	data, ok := digPath(resp, "data")
	if !ok {
		return nil, fmt.Errorf("thread query response missing data")
	}
	decoded, err := msgrapihttp.DecodeThreadQueryResponse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode thread query response: %w", err)
	}
	if len(decoded.MessageThreads) == 0 {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	return &decoded.MessageThreads[0], nil
}

// fetchParticipant fetches a single contact's profile by re-fetching the
// thread that contains them and pulling their entry out of its participant
// list, since there is no standalone per-user GraphQL query in the mobile
// client's document set.
func (m *MetaClient) fetchParticipant(ctx context.Context, userID string) (*msgrapihttp.Participant, error) {
	thread, err := m.fetchThread(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range thread.AllParticipants.Nodes {
		if p.ID == userID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("participant %s not found in thread", userID)
}

// threadToChatInfo converts a fetched thread into a bridgev2.ChatInfo.
func (m *MetaClient) threadToChatInfo(thread *msgrapihttp.Thread) bridgev2.ChatInfo {
	nicknames := thread.CustomizationInfo.NicknameMap()
	memberMap := make(map[networkid.UserID]bridgev2.ChatMember, len(thread.AllParticipants.Nodes))
	for _, p := range thread.AllParticipants.Nodes {
		memberMap[networkid.UserID(p.ID)] = bridgev2.ChatMember{
			EventSender: bridgev2.EventSender{Sender: networkid.UserID(p.ID)},
			Membership:  event.MembershipJoin,
		}
	}
	memberList := &bridgev2.ChatMemberList{
		IsFull:           true,
		TotalMemberCount: len(thread.AllParticipants.Nodes),
		MemberMap:        memberMap,
	}

	info := bridgev2.ChatInfo{Members: memberList}

	if thread.IsGroupThread {
		groupType := database.RoomTypeGroupDM
		info.Type = &groupType
		if thread.Name != "" {
			name := thread.Name
			info.Name = &name
		}
	} else {
		dmType := database.RoomTypeDM
		info.Type = &dmType
		memberList.OtherUserID = networkid.UserID(thread.ThreadKey.ID())
		if nick, ok := nicknames[thread.ThreadKey.ID()]; ok {
			info.Name = &nick
		}
	}

	if thread.Image != nil && thread.Image.URI != "" {
		avatarID := networkid.AvatarID(thread.Image.URI)
		uri := thread.Image.URI
		info.Avatar = &bridgev2.Avatar{
			ID: avatarID,
			Get: func(ctx context.Context) ([]byte, error) {
				resp, err := m.http.Get(ctx, uri, nil, false)
				if err != nil {
					return nil, err
				}
				return msgrapihttp.ReadAll(resp)
			},
		}
	}

	return info
}

// participantToUserInfo converts a fetched participant profile into a
// bridgev2.UserInfo.
func (m *MetaClient) participantToUserInfo(p msgrapihttp.Participant) bridgev2.UserInfo {
	name := m.connector.Config.FormatDisplayname(DisplaynameParams{
		Name:     p.Name,
		Username: p.Username,
	})
	info := bridgev2.UserInfo{
		Identifiers: []string{fmt.Sprintf("facebook:%s", p.ID)},
		Name:        &name,
	}
	if p.ProfilePicLarge != nil && p.ProfilePicLarge.URI != "" {
		uri := p.ProfilePicLarge.URI
		info.Avatar = &bridgev2.Avatar{
			ID: networkid.AvatarID(uri),
			Get: func(ctx context.Context) ([]byte, error) {
				resp, err := m.http.Get(ctx, uri, nil, false)
				if err != nil {
					return nil, err
				}
				return msgrapihttp.ReadAll(resp)
			},
		}
	}
	return info
}
