package handlers

import (
	"context"
	"net/http"

	"sirenlink/internal/models"
	"sirenlink/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	createID      int
	createErr     error
	genTokenToken string
	genTokenErr   error
	parseCaller   models.Caller
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastCreate         service.NewUserInput
	lastCreateCaller   models.Caller
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) CreateUser(caller models.Caller, in service.NewUserInput) (int, error) {
	m.lastCreateCaller = caller
	m.lastCreate = in
	return m.createID, m.createErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (models.Caller, error) {
	m.lastParseToken = token
	return m.parseCaller, m.parseErr
}

type mockCommands struct {
	payload models.CommandPayload
	err     error

	calls      int
	lastCaller models.Caller
	lastDevice string
	lastReq    service.SendCommandRequest
	lastIP     string
}

func (m *mockCommands) Send(ctx context.Context, caller models.Caller, deviceID string, req service.SendCommandRequest, ip string) (models.CommandPayload, error) {
	m.calls++
	m.lastCaller = caller
	m.lastDevice = deviceID
	m.lastReq = req
	m.lastIP = ip
	return m.payload, m.err
}

type mockMonitoring struct {
	health service.MQTTHealth
	states []models.DeviceState
	state  models.DeviceState
	err    error

	lastDevice string
}

func (m *mockMonitoring) MQTTHealth() service.MQTTHealth { return m.health }
func (m *mockMonitoring) ListStates(ctx context.Context) []models.DeviceState {
	return m.states
}
func (m *mockMonitoring) GetState(ctx context.Context, deviceID string) (models.DeviceState, error) {
	m.lastDevice = deviceID
	return m.state, m.err
}

type mockActivationLog struct {
	resp       []models.ActivationLog
	err        error
	lastCaller models.Caller
	lastFilter service.ActivationFilter
}

func (m *mockActivationLog) List(ctx context.Context, caller models.Caller, f service.ActivationFilter) ([]models.ActivationLog, error) {
	m.lastCaller = caller
	m.lastFilter = f
	return m.resp, m.err
}

type mockSirens struct {
	siren      models.Siren
	list       []models.Siren
	assignment models.Assignment
	err        error

	lastInput  service.SirenInput
	lastDevice string
	lastUserID int
}

func (m *mockSirens) CreateSiren(ctx context.Context, caller models.Caller, in service.SirenInput) (models.Siren, error) {
	m.lastInput = in
	return m.siren, m.err
}
func (m *mockSirens) ListSirens(ctx context.Context, caller models.Caller) ([]models.Siren, error) {
	return m.list, m.err
}
func (m *mockSirens) AssignSiren(ctx context.Context, caller models.Caller, deviceID string, userID int) (models.Assignment, error) {
	m.lastDevice = deviceID
	m.lastUserID = userID
	return m.assignment, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil, nil, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
