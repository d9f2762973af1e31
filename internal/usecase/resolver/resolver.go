// Package resolver maps inbound chat requests to a session id. Clients that
// do not send one (OpenAI-compatible frontends for instance) still land in a
// stable session derived from the request.
package resolver

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/google/uuid"
)

const (
	minEssenceLength = 10
	maxEssenceRunes  = 200
	hourLayout       = "20060102_15"
)

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithRandom sets the entropy source of last-resort session ids.
func WithRandom(src io.Reader) Option {
	return func(r *Resolver) {
		r.random = src
	}
}

type Resolver struct {
	now    func() time.Time
	random io.Reader
}

func New(opts ...Option) *Resolver {
	r := &Resolver{
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve applies the resolution strategies in priority order and never
// fails: the last one always produces a fresh session.
func (r *Resolver) Resolve(body map[string]any, headers http.Header) entity.Resolution {
	if sid := stringField(body, "session_id"); sid != "" {
		return entity.Resolution{
			SessionID: sid,
			UserID:    firstString(body, entity.AnonymousUser, "user_id"),
			Strategy:  entity.StrategyDirect,
		}
	}

	fallbackUser := firstString(body, entity.AnonymousUser, "userId", "user_id", "user")

	if sid := firstString(body, "", "sessionId", "conversation_id", "conversationId"); sid != "" {
		return entity.Resolution{
			SessionID:  sid,
			UserID:     fallbackUser,
			IsInferred: true,
			Strategy:   entity.StrategyAlternate,
		}
	}

	user := stringField(body, "user")
	if raw, _ := body["messages"].([]any); len(raw) > 0 && user != "" {
		if essence, ok := conversationEssence(messageList(raw)); ok {
			return entity.Resolution{
				SessionID:  EssenceSessionID(user, essence),
				UserID:     user,
				IsInferred: true,
				Strategy:   entity.StrategyEssence,
			}
		}
		return entity.Resolution{
			SessionID:  "user_" + user + "_" + HourBucket(r.now()),
			UserID:     user,
			IsInferred: true,
			Strategy:   entity.StrategyUserHour,
		}
	}

	if sid, headerUser := fromHeaders(headers); sid != "" {
		if headerUser == "" {
			headerUser = fallbackUser
		}
		return entity.Resolution{
			SessionID:  sid,
			UserID:     headerUser,
			IsInferred: true,
			Strategy:   entity.StrategyHeader,
		}
	}

	if user != "" && user != entity.AnonymousUser {
		return entity.Resolution{
			SessionID:  "flow_" + user + "_" + HourBucket(r.now()),
			UserID:     user,
			IsInferred: true,
			Strategy:   entity.StrategyFlow,
		}
	}

	return entity.Resolution{
		SessionID:  "auto_" + strconv.FormatInt(r.now().Unix(), 10) + "_" + r.randomHex(),
		UserID:     entity.AnonymousUser,
		IsInferred: true,
		Strategy:   entity.StrategyAuto,
	}
}

// EssenceSessionID derives a stable session id from the user and the opening
// message of a conversation.
func EssenceSessionID(user, essence string) string {
	sum := md5.Sum([]byte(user + "_" + essence))
	return "conv_" + user + "_" + hex.EncodeToString(sum[:])[:8]
}

// HourBucket formats t as YYYYMMDD_HH in UTC.
func HourBucket(t time.Time) string {
	return t.UTC().Format(hourLayout)
}

func (r *Resolver) randomHex() string {
	id, err := uuid.NewRandomFromReader(r.random)
	if err != nil {
		id = uuid.New()
	}
	return hex.EncodeToString(id[:4])
}

// conversationEssence returns up to 200 runes of the first user message
// longer than 10 characters.
func conversationEssence(msgs []map[string]any) (string, bool) {
	for _, m := range msgs {
		if stringField(m, "role") != string(entity.RoleUser) {
			continue
		}
		content, _ := m["content"].(string)
		if utf8.RuneCountInString(strings.TrimSpace(content)) <= minEssenceLength {
			continue
		}
		if utf8.RuneCountInString(content) > maxEssenceRunes {
			content = string([]rune(content)[:maxEssenceRunes])
		}
		return content, true
	}
	return "", false
}

// fromHeaders scans headers in sorted order. User-Agent is not a user id.
func fromHeaders(headers http.Header) (session, user string) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := strings.TrimSpace(headers.Get(name))
		if value == "" {
			continue
		}
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "session"):
			if session == "" {
				session = value
			}
		case strings.Contains(lower, "user") && lower != "user-agent":
			if user == "" {
				user = value
			}
		}
	}
	return session, user
}

// messageList keeps the object entries of a raw messages list.
func messageList(raw []any) []map[string]any {
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func firstString(body map[string]any, def string, keys ...string) string {
	for _, k := range keys {
		if v := stringField(body, k); v != "" {
			return v
		}
	}
	return def
}

// stringField reads key as a trimmed string. JSON numbers are accepted since
// some clients send numeric ids.
func stringField(body map[string]any, key string) string {
	switch v := body[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
