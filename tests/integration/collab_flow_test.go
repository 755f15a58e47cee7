package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/relaycargo/relay/backend/internal/auth"
	"github.com/relaycargo/relay/backend/internal/chat"
	"github.com/relaycargo/relay/backend/internal/collab"
	"github.com/relaycargo/relay/backend/internal/database"
	"github.com/relaycargo/relay/backend/internal/partners"
	"github.com/relaycargo/relay/backend/internal/server"
	"github.com/relaycargo/relay/backend/internal/users"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "relay_session"
	sessionIssuer        = "relay-auth"
	jsonContentType      = "application/json"
)

func buildHandler(testContext *testing.T) http.Handler {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(testContext.TempDir(), "integration.db")
	db, err := database.OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	requestFeed := collab.NewFeed()
	requestStore, err := collab.NewSQLiteStore(collab.SQLiteStoreConfig{Database: db, Feed: requestFeed})
	if err != nil {
		testContext.Fatalf("failed to build request store: %v", err)
	}
	requestService, err := collab.NewService(collab.ServiceConfig{
		Store:      requestStore,
		IDProvider: collab.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to build request service: %v", err)
	}

	chatLog, err := chat.NewSQLiteLog(chat.SQLiteLogConfig{Database: db, Feed: chat.NewFeed()})
	if err != nil {
		testContext.Fatalf("failed to build chat log: %v", err)
	}
	chatService, err := chat.NewService(chat.ServiceConfig{Log: chatLog})
	if err != nil {
		testContext.Fatalf("failed to build chat service: %v", err)
	}

	directory, err := users.NewDirectory(users.DirectoryConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build directory: %v", err)
	}
	partnerResolver, err := partners.NewResolver(partners.ResolverConfig{
		Store:     requestStore,
		Feed:      requestFeed,
		Directory: directory,
	})
	if err != nil {
		testContext.Fatalf("failed to build resolver: %v", err)
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}
	sessionIssuerService, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:  sessionValidator,
		Issuer:    sessionIssuerService,
		Requests:  requestService,
		Feed:      requestFeed,
		Chat:      chatService,
		ChatLog:   chatLog,
		Partners:  partnerResolver,
		Directory: directory,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func login(testContext *testing.T, serverURL, userID, displayName, role string) *http.Cookie {
	testContext.Helper()
	payload, err := json.Marshal(map[string]string{
		"user_id":      userID,
		"display_name": displayName,
		"role":         role,
	})
	if err != nil {
		testContext.Fatalf("failed to encode login payload: %v", err)
	}
	response, err := http.Post(serverURL+"/auth/session", jsonContentType, bytes.NewReader(payload))
	if err != nil {
		testContext.Fatalf("login request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("login returned status %d", response.StatusCode)
	}
	for _, cookie := range response.Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie
		}
	}
	testContext.Fatal("expected session cookie from login")
	return nil
}

func call(testContext *testing.T, method, url string, body any, cookie *http.Cookie, target any) int {
	testContext.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to encode body: %v", err)
		}
		payload = encoded
	}
	request, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	request.AddCookie(cookie)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if target != nil {
		if err := json.NewDecoder(response.Body).Decode(target); err != nil {
			testContext.Fatalf("failed to decode response: %v", err)
		}
	}
	return response.StatusCode
}

func TestCollaborationFlow(testContext *testing.T) {
	handler := buildHandler(testContext)
	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	shipper := login(testContext, testServer.URL, "shipper-1", "ExpressCargo", "shipper")
	carrier := login(testContext, testServer.URL, "carrier-1", "FastMove", "carrier")

	// Shipper opens a request against the carrier's trip.
	var opened struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	status := call(testContext, http.MethodPost, testServer.URL+"/requests", map[string]any{
		"to_user_id":     "carrier-1",
		"target_trip_id": "trip-9",
		"package":        map[string]any{"weight_kg": 3, "description": "spare parts"},
	}, shipper, &opened)
	if status != http.StatusCreated || opened.Status != "pending" {
		testContext.Fatalf("unexpected open result: %d %+v", status, opened)
	}

	// Carrier sees it in the incoming active bucket.
	var incoming struct {
		Requests []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"requests"`
	}
	status = call(testContext, http.MethodGet, testServer.URL+"/requests?box=incoming&bucket=active", nil, carrier, &incoming)
	if status != http.StatusOK || len(incoming.Requests) != 1 || incoming.Requests[0].ID != opened.ID {
		testContext.Fatalf("unexpected incoming listing: %d %+v", status, incoming)
	}

	// Carrier quotes, shipper confirms.
	var quoted struct {
		Status string `json:"status"`
		Quote  *struct {
			Price float64 `json:"price"`
		} `json:"quote"`
	}
	status = call(testContext, http.MethodPost, fmt.Sprintf("%s/requests/%s/quote", testServer.URL, opened.ID),
		map[string]any{"price": 75.5, "note": "direct route"}, carrier, &quoted)
	if status != http.StatusOK || quoted.Status != "price_proposed" || quoted.Quote == nil || quoted.Quote.Price != 75.5 {
		testContext.Fatalf("unexpected quote result: %d %+v", status, quoted)
	}

	var confirmed struct {
		Status string `json:"status"`
	}
	status = call(testContext, http.MethodPost, fmt.Sprintf("%s/requests/%s/confirm", testServer.URL, opened.ID), nil, shipper, &confirmed)
	if status != http.StatusOK || confirmed.Status != "confirmed" {
		testContext.Fatalf("unexpected confirm result: %d %+v", status, confirmed)
	}

	// Confirmation establishes the partnership for both sides.
	var partnerList struct {
		Partners []struct {
			UserID          string `json:"user_id"`
			DisplayName     string `json:"display_name"`
			ConversationKey string `json:"conversation_key"`
		} `json:"partners"`
	}
	status = call(testContext, http.MethodGet, testServer.URL+"/partners", nil, shipper, &partnerList)
	if status != http.StatusOK || len(partnerList.Partners) != 1 {
		testContext.Fatalf("unexpected partner listing: %d %+v", status, partnerList)
	}
	if partnerList.Partners[0].UserID != "carrier-1" || partnerList.Partners[0].DisplayName != "FastMove" {
		testContext.Fatalf("unexpected partner: %+v", partnerList.Partners[0])
	}

	// Carrier messages the shipper; the shipper reads it.
	var sent struct {
		ID string `json:"id"`
	}
	status = call(testContext, http.MethodPost, testServer.URL+"/conversations/shipper-1/messages",
		map[string]any{"text": "on part demain"}, carrier, &sent)
	if status != http.StatusCreated || sent.ID == "" {
		testContext.Fatalf("unexpected send result: %d %+v", status, sent)
	}

	var conversation struct {
		Messages []struct {
			ID            string `json:"id"`
			SenderID      string `json:"sender_id"`
			Text          string `json:"text"`
			ReadAtSeconds int64  `json:"read_at_s"`
		} `json:"messages"`
	}
	status = call(testContext, http.MethodGet, testServer.URL+"/conversations/carrier-1/messages", nil, shipper, &conversation)
	if status != http.StatusOK || len(conversation.Messages) != 1 {
		testContext.Fatalf("unexpected conversation: %d %+v", status, conversation)
	}
	if conversation.Messages[0].Text != "on part demain" || conversation.Messages[0].ReadAtSeconds != 0 {
		testContext.Fatalf("unexpected message: %+v", conversation.Messages[0])
	}

	var marked struct {
		MarkedRead int `json:"marked_read"`
	}
	status = call(testContext, http.MethodPost, testServer.URL+"/conversations/carrier-1/read",
		map[string]any{"message_ids": []string{sent.ID}}, shipper, &marked)
	if status != http.StatusOK || marked.MarkedRead != 1 {
		testContext.Fatalf("unexpected mark read result: %d %+v", status, marked)
	}

	// The receipt is visible to the sender.
	status = call(testContext, http.MethodGet, testServer.URL+"/conversations/shipper-1/messages", nil, carrier, &conversation)
	if status != http.StatusOK || conversation.Messages[0].ReadAtSeconds == 0 {
		testContext.Fatalf("expected read receipt, got %+v", conversation.Messages[0])
	}

	// Completion moves the request into history for both parties.
	var completed struct {
		Status             string `json:"status"`
		CompletedAtSeconds int64  `json:"completed_at_s"`
	}
	status = call(testContext, http.MethodPost, fmt.Sprintf("%s/requests/%s/complete", testServer.URL, opened.ID), nil, carrier, &completed)
	if status != http.StatusOK || completed.Status != "completed" || completed.CompletedAtSeconds == 0 {
		testContext.Fatalf("unexpected complete result: %d %+v", status, completed)
	}
}
