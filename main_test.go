package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/alarms/infrastructure/memory"
	ingest "alarm-engine/internal/alarms/interfaces"
	alarmhttp "alarm-engine/internal/alarms/interfaces/http"
	"alarm-engine/internal/auth"
	"alarm-engine/internal/config"
)

const (
	testJWTSecret    = "jwt-secret"
	testIngestSecret = "ingest-secret"
)

func highTemperatureRule() alarms.AlarmRule {
	limit := alarms.Number(50)
	return alarms.AlarmRule{
		ID:        "high-temp",
		TenantID:  "t1",
		Name:      "High Temperature",
		AlarmType: "High Temperature",
		Enabled:   true,
		Sources:   []alarms.SourceFilter{{EntityType: alarms.EntityDevice}},
		Arguments: map[string]alarms.Argument{
			"temperature": {Type: alarms.ValueNumeric, Source: alarms.SourceTimeSeries, Key: "temperature"},
			"limit":       {Type: alarms.ValueNumeric, Source: alarms.SourceConstant, Value: &limit},
		},
		CreateConditions: []alarms.SeverityCondition{{
			Severity: alarms.SeverityCritical,
			Condition: alarms.Condition{
				Filter: alarms.Simple("temperature", alarms.OperatorGreater, "limit"),
				Spec:   alarms.Spec{Type: alarms.SpecSimple},
			},
		}},
	}
}

func signedToken(t *testing.T, tenantID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tester",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T) (http.Handler, *memory.AlarmStore) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store = config.StoreMemory
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Auth.IngestSecret = testIngestSecret

	store := memory.NewAlarmStore()
	attributes := memory.NewAttributeStore()
	directory := memory.NewDirectory()
	resolver, err := alarmapp.NewResolver(attributes)
	require.NoError(t, err)
	broker := alarmhttp.NewSSEBroker()
	engine, err := alarmapp.NewEngine(memory.NewRuleStore(highTemperatureRule()), resolver, directory, store,
		alarmapp.WithWorkers(2),
		alarmapp.WithPublisher(broker))
	require.NoError(t, err)
	require.NoError(t, engine.ReloadRules(ctx))
	engine.Start(ctx)
	t.Cleanup(engine.Stop)

	service, err := alarmapp.NewService(store, store, engine)
	require.NoError(t, err)
	ingestor, err := ingest.NewIngestor(engine, ingest.WithRecorder(attributes), ingest.WithOwnershipWriter(directory))
	require.NoError(t, err)
	handler, err := buildHandler(cfg, service, engine, ingestor, broker, zap.NewNop())
	require.NoError(t, err)
	return handler, store
}

func signedIngest(t *testing.T, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("X-Ingest-Timestamp", ts)
	req.Header.Set("X-Ingest-Signature", auth.SignIngest([]byte(testIngestSecret), ts, []byte(body)))
	return req
}

func TestServeRaisesAlarmFromSignedIngest(t *testing.T) {
	handler, _ := newTestServer(t)

	body := `{"type":"POST_TELEMETRY_REQUEST","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","data":{"temperature":61}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedIngest(t, body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var list []alarms.Alarm
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alarms?entityType=DEVICE&entityId=dev-1", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, "t1", "viewer"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		list = nil
		return json.Unmarshal(rec.Body.Bytes(), &list) == nil && len(list) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, alarms.SeverityCritical, list[0].Severity)
	assert.Equal(t, "High Temperature", list[0].Type)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alarms/"+list[0].ID+"/ack", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "t1", "viewer"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/alarms/"+list[0].ID+"/ack", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "t1", "operator"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeRejectsUnsignedAndUnauthenticated(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms?entityType=DEVICE&entityId=dev-1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/reload", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "t1", "operator"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/rules/reload", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "t1", "admin"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "rules"})

	root.SetArgs([]string{"rules", "validate", "internal/alarms/infrastructure/rulefile/testdata/rules.yaml"})
	var out strings.Builder
	root.SetOut(&out)
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "2 rules ok")
}
