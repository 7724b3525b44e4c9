package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"coachapp/api/handlers"
	"coachapp/api/routes"
	"coachapp/db"
	"coachapp/messaging"
	"coachapp/models"
	"coachapp/services"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func init() {
	color.NoColor = true
}

func newTestServer(t *testing.T) string {
	gin.SetMode(gin.TestMode)

	orm, err := db.Open(sqlite.Open(":memory:"))
	require.NoError(t, err)
	sqlDB, err := orm.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(orm))

	feed := services.NewLocalFeed()
	users := services.NewUserService(orm)
	api := handlers.New(users, services.NewMessageStore(orm, feed), feed, messaging.DefaultOptions(), services.NewWSConnManager())

	router := gin.New()
	routes.PublicApi(router, api, users)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		_ = feed.Close()
		_ = sqlDB.Close()
	})
	return srv.URL
}

func TestSessionFile(t *testing.T) {
	t.Setenv("COACHCTL_SESSION", filepath.Join(t.TempDir(), "nested", "session.yaml"))

	session, err := loadSession()
	require.NoError(t, err)
	assert.Empty(t, session.Token)

	_, _, err = authorizedClient()
	assert.ErrorContains(t, err, "not logged in")

	require.NoError(t, saveSession(&savedSession{URL: "http://coach:9000", UserID: "u1", Nickname: "anna", Token: "t0k"}))
	c, session, err := authorizedClient()
	require.NoError(t, err)
	assert.Equal(t, "http://coach:9000", c.BaseURL)
	assert.Equal(t, "t0k", c.Token)
	assert.Equal(t, "u1", session.UserID)

	serverURL = "http://override:1"
	t.Cleanup(func() { serverURL = "" })
	assert.Equal(t, "http://override:1", resolveURL(session))

	require.NoError(t, removeSession())
	require.NoError(t, removeSession())
	session, err = loadSession()
	require.NoError(t, err)
	assert.Empty(t, session.Token)
}

func TestPrintConversations(t *testing.T) {
	var buf bytes.Buffer
	printConversations(&buf, nil)
	assert.Equal(t, "No conversations yet\n", buf.String())

	buf.Reset()
	printConversations(&buf, []models.ConversationPartner{{
		ID:          "c1",
		DisplayName: "Coach Anna",
		LastMessage: models.Message{Content: "see you\n at   six", SentAt: time.Now()},
		UnreadCount: 2,
	}})
	out := buf.String()
	assert.Contains(t, out, "Coach Anna c1 [2 unread]")
	assert.Contains(t, out, "see you at six")
}

func TestPrintThread(t *testing.T) {
	entityType, entityID := "workout_plan", "wp-1"
	messages := []models.Message{
		{SenderID: "coach", Content: "new plan", SentAt: time.Now(), RelatedEntityType: &entityType, RelatedEntityID: &entityID},
		{SenderID: "me", Content: "thanks", SentAt: time.Now()},
	}

	var buf bytes.Buffer
	printThread(&buf, messages, "me", "Anna")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Anna: new plan (workout_plan wp-1)")
	assert.Contains(t, lines[1], "you: thanks")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := strings.Repeat("я", previewLength+10)
	p := []rune(preview(long))
	assert.Len(t, p, previewLength)
	assert.Equal(t, '…', p[len(p)-1])
}

func TestRunLoad(t *testing.T) {
	url := newTestServer(t)

	var out bytes.Buffer
	stats, err := RunLoad(context.Background(), LoadConfig{
		URL:            url,
		Workers:        2,
		Duration:       3 * time.Second,
		MessageCount:   20,
		Pairs:          2,
		RequestsPerSec: 100,
	}, &out)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, stats.TotalRequests, int64(20))
	assert.Equal(t, int64(0), stats.FailedRequests)
	assert.Equal(t, stats.TotalRequests, stats.SuccessRequests)

	printFinalStats(&out, stats)
	assert.Contains(t, out.String(), "FINAL STATISTICS")
}

func TestRunLoadValidatesConfig(t *testing.T) {
	_, err := RunLoad(context.Background(), LoadConfig{Workers: 0, Pairs: 1, RequestsPerSec: 1}, &bytes.Buffer{})
	assert.Error(t, err)
}
