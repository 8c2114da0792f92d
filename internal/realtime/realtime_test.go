package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"iotc-agent/internal/command"
	"iotc-agent/internal/model"
)

var testSecret = []byte("feed-secret")

func TestFeedTokenRoundTrip(t *testing.T) {
	token, err := IssueFeedToken(testSecret, "ops", []string{TopicTelemetry}, time.Minute)
	require.NoError(t, err)

	claims, err := VerifyFeedToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.Allows(TopicTelemetry))
	assert.False(t, claims.Allows(TopicCommands))

	_, err = VerifyFeedToken([]byte("other"), token)
	assert.Error(t, err)
}

func TestFeedTokenRejectsExpiredAndForeignAudience(t *testing.T) {
	expired := FeedClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "ops",
		Audience:  jwt.ClaimStrings{FeedAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString(testSecret)
	require.NoError(t, err)
	_, err = VerifyFeedToken(testSecret, token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	foreign := FeedClaims{RegisteredClaims: jwt.RegisteredClaims{Audience: jwt.ClaimStrings{"authenticated"}}}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, foreign).SignedString(testSecret)
	require.NoError(t, err)
	_, err = VerifyFeedToken(testSecret, token)
	assert.Error(t, err)

	_, err = VerifyFeedToken(nil, token)
	assert.Error(t, err)
}

func startFeed(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop().Sugar())
	srv := httptest.NewServer(Handler(hub, testSecret))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServeWSRejectsMissingOrBadToken(t *testing.T) {
	_, url := startFeed(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad, err := IssueFeedToken([]byte("wrong"), "ops", nil, time.Minute)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(url+"?token="+bad, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func dialFeed(t *testing.T, url string, topics []string) *websocket.Conn {
	t.Helper()
	token, err := IssueFeedToken(testSecret, "ops", topics, time.Minute)
	require.NoError(t, err)

	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFeedDeliversSubscribedTopics(t *testing.T) {
	hub, url := startFeed(t)
	conn := dialFeed(t, url, []string{TopicTelemetry})

	require.NoError(t, conn.WriteJSON(SubscribeMessage{Action: "subscribe", Topics: []string{TopicTelemetry, TopicCommands}}))
	require.Eventually(t, func() bool { return hub.Subscribers(TopicTelemetry) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Subscribers(TopicCommands))

	// not subscribed, dropped silently
	hub.PublishCommandResult(model.CommandMessage{Command: "x"}, command.Result{Name: "x"})

	records := []model.TelemetryRecord{{UniqueID: "dev-1", Time: "2024-05-01T10:00:00.000Z", Data: map[string]any{"tv": 20.5}}}
	require.NoError(t, hub.SendTelemetry(context.Background(), records))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"telemetry","data":[{"uniqueId":"dev-1","time":"2024-05-01T10:00:00.000Z","data":{"tv":20.5}}]}`, string(data))
}

func TestFeedCommandsTopic(t *testing.T) {
	hub, url := startFeed(t)
	conn := dialFeed(t, url, nil)

	require.NoError(t, conn.WriteJSON(SubscribeMessage{Action: "subscribe", Topics: []string{TopicCommands}}))
	require.Eventually(t, func() bool { return hub.Subscribers(TopicCommands) == 1 }, 2*time.Second, 10*time.Millisecond)

	ack := "a-1"
	hub.PublishCommandResult(model.CommandMessage{Command: "reboot", Ack: &ack},
		command.Result{Name: "reboot", State: command.StateFailed, ExitCode: 3, Message: "boom"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"commands","data":{"command":"reboot","args":null,"state":"failed","exit_code":3,"message":"boom","ack_id":"a-1"}}`, string(data))
}

func TestClientDisconnectUnsubscribes(t *testing.T) {
	hub, url := startFeed(t)
	conn := dialFeed(t, url, nil)

	require.NoError(t, conn.WriteJSON(SubscribeMessage{Action: "subscribe", Topics: []string{TopicTelemetry}}))
	require.Eventually(t, func() bool { return hub.Subscribers(TopicTelemetry) == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers(TopicTelemetry) == 0 }, 2*time.Second, 10*time.Millisecond)
}
