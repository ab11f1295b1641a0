package max

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"maxrelay/internal/domain"
)

var _ domain.Directory = (*Client)(nil)

type contactInfoReply struct {
	Contacts []struct {
		ID    flexInt64 `json:"id"`
		Names []struct {
			Name      string `json:"name"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Type      string `json:"type"`
		} `json:"names"`
	} `json:"contacts"`
}

// GetUser looks up a profile. It returns nil, nil if MAX knows no such user.
func (c *Client) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var reply contactInfoReply
	err := c.call(ctx, OpContactInfo, map[string]any{"contactIds": []int64{userID}}, &reply)
	if err != nil {
		return nil, &domain.LookupError{Op: OpContactInfo.String(), Err: err}
	}
	for _, ct := range reply.Contacts {
		if int64(ct.ID) != userID {
			continue
		}
		user := &domain.User{ID: userID}
		for _, n := range ct.Names {
			name := n.Name
			if name == "" {
				name = strings.TrimSpace(n.FirstName + " " + n.LastName)
			}
			user.Names = append(user.Names, name)
		}
		return user, nil
	}
	return nil, nil
}

// VideoURL resolves a playable URL for a video attachment, preferring the
// highest MP4 quality the server offers.
func (c *Client) VideoURL(ctx context.Context, chatID, messageID, videoID int64) (string, error) {
	var reply map[string]json.RawMessage
	err := c.call(ctx, OpVideoPlay, map[string]any{
		"videoId":   videoID,
		"chatId":    chatID,
		"messageId": strconv.FormatInt(messageID, 10),
	}, &reply)
	if err != nil {
		return "", &domain.LookupError{Op: OpVideoPlay.String(), Err: err}
	}
	url := pickVideoURL(reply)
	if url == "" {
		return "", &domain.LookupError{Op: OpVideoPlay.String(), Err: fmt.Errorf("no playable url for video %d", videoID)}
	}
	return url, nil
}

// pickVideoURL returns the MP4_<height> entry with the largest height, then
// falls back to any other http(s) string value. EXTERNAL links point at a web
// player page and are used last.
func pickVideoURL(reply map[string]json.RawMessage) string {
	type candidate struct {
		height int
		url    string
	}
	var mp4, other []candidate
	external := ""
	for key, raw := range reply {
		var s string
		if json.Unmarshal(raw, &s) != nil || !strings.HasPrefix(s, "http") {
			continue
		}
		switch {
		case strings.HasPrefix(key, "MP4_"):
			h, _ := strconv.Atoi(strings.TrimPrefix(key, "MP4_"))
			mp4 = append(mp4, candidate{height: h, url: s})
		case key == "EXTERNAL":
			external = s
		default:
			other = append(other, candidate{url: s})
		}
	}
	if len(mp4) > 0 {
		sort.Slice(mp4, func(i, j int) bool { return mp4[i].height > mp4[j].height })
		return mp4[0].url
	}
	if len(other) > 0 {
		sort.Slice(other, func(i, j int) bool { return other[i].url < other[j].url })
		return other[0].url
	}
	return external
}

// FileURL resolves the download URL of a file attachment.
func (c *Client) FileURL(ctx context.Context, chatID, messageID, fileID int64) (string, error) {
	var reply struct {
		URL string `json:"url"`
	}
	err := c.call(ctx, OpFileDownload, map[string]any{
		"fileId":    fileID,
		"chatId":    chatID,
		"messageId": strconv.FormatInt(messageID, 10),
	}, &reply)
	if err != nil {
		return "", &domain.LookupError{Op: OpFileDownload.String(), Err: err}
	}
	if reply.URL == "" {
		return "", &domain.LookupError{Op: OpFileDownload.String(), Err: fmt.Errorf("no url for file %d", fileID)}
	}
	return reply.URL, nil
}
