package twitter

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies how a tweet relates to other tweets. Only authored
// content (genesis, quote) carries the account's own words; retweets
// and replies are referenced or conversational text.
type Kind string

const (
	KindGenesis Kind = "genesis"
	KindRetweet Kind = "retweet"
	KindReply   Kind = "reply"
	KindQuote   Kind = "quote"
)

type User struct {
	ID        string
	Name      string
	Username  string
	Verified  bool
	Followers int
}

// Tweet is one parsed item off the filtered stream.
type Tweet struct {
	ID             string
	Text           string
	Kind           Kind
	CreatedAt      time.Time
	ConversationID string
	Author         User
}

// IsAuthored reports whether the text was written by the account
// itself rather than passed along, the only tweets worth matching for
// listing announcements.
func (t Tweet) IsAuthored() bool {
	return t.Kind == KindGenesis || t.Kind == KindQuote
}

type apiUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Username      string `json:"username"`
	Verified      bool   `json:"verified"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
	} `json:"public_metrics"`
}

type apiTweet struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	AuthorID         string `json:"author_id"`
	CreatedAt        string `json:"created_at"`
	ConversationID   string `json:"conversation_id"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type streamPayload struct {
	Data     apiTweet `json:"data"`
	Includes struct {
		Tweets []apiTweet `json:"tweets"`
		Users  []apiUser  `json:"users"`
	} `json:"includes"`
}

// ParseStreamLine decodes one line of the filtered stream into a
// Tweet.
func ParseStreamLine(line []byte) (Tweet, error) {
	var payload streamPayload
	if err := json.Unmarshal(line, &payload); err != nil {
		return Tweet{}, fmt.Errorf("decode stream line: %w", err)
	}
	if payload.Data.ID == "" {
		return Tweet{}, fmt.Errorf("stream line has no tweet data")
	}
	return parseTweet(payload), nil
}

func parseTweet(payload streamPayload) Tweet {
	d := payload.Data

	t := Tweet{
		ID:             d.ID,
		Text:           d.Text,
		Kind:           classify(d),
		ConversationID: d.ConversationID,
	}
	if ts, err := time.Parse(time.RFC3339, d.CreatedAt); err == nil {
		t.CreatedAt = ts
	}
	for _, u := range payload.Includes.Users {
		if u.ID == d.AuthorID {
			t.Author = User{
				ID:        u.ID,
				Name:      u.Name,
				Username:  u.Username,
				Verified:  u.Verified,
				Followers: u.PublicMetrics.FollowersCount,
			}
			break
		}
	}

	// A retweet's interesting text lives in the referenced tweet; the
	// parent is just the "RT @..." truncation.
	if t.Kind == KindRetweet {
		for _, ref := range d.ReferencedTweets {
			if ref.Type != "retweeted" {
				continue
			}
			for _, inc := range payload.Includes.Tweets {
				if inc.ID == ref.ID {
					t.Text = inc.Text
				}
			}
		}
	}
	return t
}

func classify(d apiTweet) Kind {
	for _, ref := range d.ReferencedTweets {
		switch ref.Type {
		case "retweeted":
			return KindRetweet
		case "replied_to":
			return KindReply
		}
	}
	for _, ref := range d.ReferencedTweets {
		if ref.Type == "quoted" {
			return KindQuote
		}
	}
	return KindGenesis
}
