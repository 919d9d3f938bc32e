package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lingua_chat/config"
	"lingua_chat/middleware"
	"lingua_chat/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	APIPrefix = "/api/v1"
	JWTSecret = "test-secret"
)

// testEnv 进程内启动的完整服务
type testEnv struct {
	app    *App
	server *httptest.Server
	admin  *TestUser
}

// TestUser 测试用户
type TestUser struct {
	ID    uuid.UUID
	Token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.InitAuth(JWTSecret)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := utils.OpenDB(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, utils.Migrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	admin := createTestUser(t)
	cfg := &config.Config{
		AdminUserIDs: []uuid.UUID{admin.ID},
		Translation: config.TranslationConfig{
			Provider:     "mock",
			Workers:      2,
			RatePerSec:   100,
			MaxAttempts:  3,
			BackoffBase:  10 * time.Millisecond,
			Timeout:      time.Second,
			MaxLanguages: 10,
		},
	}

	application, err := New(cfg, db, rdb)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	server := httptest.NewServer(application.Router)

	t.Cleanup(func() {
		server.Close()
		application.Stop()
		rdb.Close()
		sqlDB.Close()
	})
	return &testEnv{app: application, server: server, admin: admin}
}

// createTestUser 创建测试用户
func createTestUser(t *testing.T) *TestUser {
	t.Helper()
	middleware.InitAuth(JWTSecret)
	userID := uuid.New()
	token, err := middleware.GenerateToken(userID, time.Hour)
	require.NoError(t, err)
	return &TestUser{ID: userID, Token: token}
}

// httpRequest HTTP 请求辅助函数，返回状态码和解析后的响应
func (e *testEnv) httpRequest(t *testing.T, method, path, token string, body interface{}) (int, apiResponse) {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, e.server.URL+path, bodyReader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp.StatusCode, parsed
}

// apiResponse 统一响应格式
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (r apiResponse) decode(t *testing.T, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, out))
}

// connectWebSocket 建立连接并等待注册完成
func (e *testEnv) connectWebSocket(t *testing.T, user *TestUser) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + user.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return e.app.Hub.IsOnline(user.ID) }, 2*time.Second, 10*time.Millisecond)
	return conn
}

// wsSend WebSocket 发送消息
func wsSend(conn *websocket.Conn, msgType string, data interface{}) error {
	return conn.WriteJSON(map[string]interface{}{
		"type": msgType,
		"data": data,
	})
}

// wsReceiveMessageType 接收指定类型的消息，跳过其他类型
func wsReceiveMessageType(conn *websocket.Conn, msgType string, timeout time.Duration, maxAttempts int) (map[string]interface{}, error) {
	for i := 0; i < maxAttempts; i++ {
		conn.SetReadDeadline(time.Now().Add(timeout))
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, err
		}
		if msg["type"] == msgType {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("did not receive message type '%s' after %d attempts", msgType, maxAttempts)
}
