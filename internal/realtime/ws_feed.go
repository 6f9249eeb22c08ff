package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/airbear/internal/models"
)

// WSFeed subscribes to the API's /ws change feed, one connection per topic.
type WSFeed struct {
	base   string
	token  func() string
	dialer *websocket.Dialer
	log    *slog.Logger
}

// NewWSFeed takes the API base URL (http or https) and a token source read
// on every subscribe.
func NewWSFeed(apiURL string, token func() string, log *slog.Logger) *WSFeed {
	base := strings.TrimSuffix(apiURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if log == nil {
		log = slog.Default()
	}
	return &WSFeed{base: base, token: token, dialer: websocket.DefaultDialer, log: log}
}

func (f *WSFeed) Subscribe(ctx context.Context, topic Topic) (Subscription, error) {
	q := url.Values{}
	q.Set("table", topic.Table)
	if topic.Filter != "" {
		q.Set("filter", topic.Filter)
	}
	var hdr http.Header
	if f.token != nil {
		if tok := f.token(); tok != "" {
			hdr = http.Header{"Authorization": []string{"Bearer " + tok}}
		}
	}
	conn, resp, err := f.dialer.DialContext(ctx, f.base+"/ws?"+q.Encode(), hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe %s: %s: %w", topic, resp.Status, err)
		}
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s := &wsSubscription{conn: conn, ch: make(chan models.Change, 16), done: make(chan struct{})}
	go s.readLoop(f.log.With("topic", topic.String()))
	return s, nil
}

type wsSubscription struct {
	conn *websocket.Conn
	ch   chan models.Change
	done chan struct{}
	once sync.Once
}

func (s *wsSubscription) C() <-chan models.Change { return s.ch }

func (s *wsSubscription) readLoop(log *slog.Logger) {
	defer close(s.ch)
	for {
		var c models.Change
		if err := s.conn.ReadJSON(&c); err != nil {
			select {
			case <-s.done:
			default:
				log.Warn("change feed read failed", "error", err)
			}
			return
		}
		select {
		case s.ch <- c:
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}
