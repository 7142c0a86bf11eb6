package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/twapbook/internal/aggregator"
	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/hub"
	"github.com/quantrail/twapbook/internal/model"
	"github.com/quantrail/twapbook/internal/venue"
)

// fakeGate is a minimal auth.Gate for exercising httpapi handlers
// without bcrypt/JWT round trips.
type fakeGate struct {
	users map[string]model.User
	err   error
}

func newFakeGate() *fakeGate { return &fakeGate{users: map[string]model.User{}} }

func (f *fakeGate) Register(ctx context.Context, username, password, role string) (model.User, error) {
	if f.err != nil {
		return model.User{}, f.err
	}
	u := model.User{ID: "u-" + username, Username: username, Role: role}
	f.users[username] = u
	return u, nil
}

func (f *fakeGate) Login(ctx context.Context, username, password string) (string, model.User, error) {
	u, ok := f.users[username]
	if !ok {
		return "", model.User{}, apperr.New(apperr.Unauthenticated, "invalid credentials")
	}
	return "token-" + u.ID, u, nil
}

func (f *fakeGate) Authenticate(ctx context.Context, token string) (model.User, error) {
	for _, u := range f.users {
		if token == "token-"+u.ID {
			return u, nil
		}
	}
	return model.User{}, apperr.New(apperr.Unauthenticated, "invalid or expired token")
}

func (f *fakeGate) Unregister(ctx context.Context, username string) error {
	if _, ok := f.users[username]; !ok {
		return apperr.New(apperr.NotFound, "user not found: "+username)
	}
	delete(f.users, username)
	return nil
}

func (f *fakeGate) ListUsers(ctx context.Context) ([]model.User, error) {
	out := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

// fakeRepo is a minimal repository.Repository for handler tests. It is
// mutex-protected because handleCreateTWAP runs the TWAP engine against
// it on a background goroutine concurrently with the test's own reads.
type fakeRepo struct {
	mu         sync.Mutex
	orders     map[string]*model.ParentOrder
	executions map[string][]model.Execution
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[string]*model.ParentOrder{}, executions: map[string][]model.Execution{}}
}

func (r *fakeRepo) AddParentOrder(ctx context.Context, order *model.ParentOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.OrderID] = order
	return nil
}
func (r *fakeRepo) AppendExecution(ctx context.Context, exec model.Execution) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[exec.OrderID] = append(r.executions[exec.OrderID], exec)
	return int64(len(r.executions[exec.OrderID])), nil
}
func (r *fakeRepo) UpdateParentState(ctx context.Context, order *model.ParentOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.OrderID] = order
	return nil
}
func (r *fakeRepo) GetOrders(ctx context.Context, owner string) ([]model.ParentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ParentOrder
	for _, o := range r.orders {
		if o.Owner == owner {
			out = append(out, *o)
		}
	}
	return out, nil
}
func (r *fakeRepo) GetOrder(ctx context.Context, owner, orderID string) (*model.ParentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Owner != owner {
		return nil, apperr.New(apperr.NotFound, "order not found: "+orderID)
	}
	return o, nil
}
func (r *fakeRepo) GetExecutions(ctx context.Context, owner, orderID string) ([]model.Execution, error) {
	if _, err := r.GetOrder(ctx, owner, orderID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[orderID], nil
}

func (r *fakeRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeBookSource struct{}

func (fakeBookSource) Snapshot(ctx context.Context, symbol string, venues []model.Venue) (model.ConsolidatedSnapshot, error) {
	return model.ConsolidatedSnapshot{Symbol: symbol}, nil
}

type fakeVenueAdapter struct{ name model.Venue }

func (a fakeVenueAdapter) Name() model.Venue { return a.name }
func (a fakeVenueAdapter) ListPairs(ctx context.Context) (map[string]string, error) {
	return map[string]string{"BTCUSDT": "BTCUSDT"}, nil
}
func (a fakeVenueAdapter) FetchCandles(ctx context.Context, symbol string, interval model.Interval, start, end time.Time) ([]model.Candle, error) {
	return []model.Candle{{OpenTime: start, Open: model.MustDecimal("1"), High: model.MustDecimal("1"), Low: model.MustDecimal("1"), Close: model.MustDecimal("1"), Volume: model.MustDecimal("1")}}, nil
}
func (a fakeVenueAdapter) StreamBook(ctx context.Context, symbol string) (<-chan model.BookSnapshot, error) {
	ch := make(chan model.BookSnapshot)
	return ch, nil
}
func (a fakeVenueAdapter) SupportedIntervals() []model.Interval { return []model.Interval{model.Interval1m} }

func newTestServer() (*Server, *fakeGate, *fakeRepo) {
	registry := venue.NewRegistry(fakeVenueAdapter{name: model.VenueBinance})
	gate := newFakeGate()
	repo := newFakeRepo()
	h := hub.New(registry, aggregator.New(zerolog.Nop()), zerolog.Nop())
	s := NewServer(registry, gate, repo, h, fakeBookSource{}, nil, zerolog.Nop())
	return s, gate, repo
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleExchanges_ReturnsRegisteredVenues(t *testing.T) {
	s, _, _ := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/exchanges", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Binance")
}

func TestHandleRegisterThenLogin_ReturnsBearerToken(t *testing.T) {
	s, _, _ := newTestServer()

	rec := doRequest(t, s, http.MethodPost, "/register", registerRequest{Username: "alice", Password: "hunter2"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/login", loginRequest{Username: "alice", Password: "hunter2"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Username)
}

func TestHandleSecure_RejectsMissingBearerToken(t *testing.T) {
	s, _, _ := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/secure", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSecure_AcceptsValidBearerToken(t *testing.T) {
	s, gate, _ := newTestServer()
	user, err := gate.Register(context.Background(), "bob", "pw", model.RoleUser)
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodGet, "/secure", nil, "token-"+user.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCreateTWAP_RejectsInvalidSide(t *testing.T) {
	s, gate, _ := newTestServer()
	user, _ := gate.Register(context.Background(), "carol", "pw", model.RoleUser)

	rec := doRequest(t, s, http.MethodPost, "/orders/twap", createTWAPRequest{
		Symbol: "BTCUSDT", Side: "sideways", TotalQuantity: "10", DurationSeconds: 30,
	}, "token-"+user.ID)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateTWAP_AcceptsValidOrder(t *testing.T) {
	s, gate, repo := newTestServer()
	user, _ := gate.Register(context.Background(), "dave", "pw", model.RoleUser)

	rec := doRequest(t, s, http.MethodPost, "/orders/twap", createTWAPRequest{
		Symbol: "BTCUSDT", Side: "buy", TotalQuantity: "10", DurationSeconds: 1,
	}, "token-"+user.ID)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, repo.orderCount())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token_id"])
}

func TestHandleGetOrder_ReturnsNotFoundForAnotherUsersOrder(t *testing.T) {
	s, gate, repo := newTestServer()
	owner, _ := gate.Register(context.Background(), "eve", "pw", model.RoleUser)
	intruder, _ := gate.Register(context.Background(), "mallory", "pw", model.RoleUser)

	order := &model.ParentOrder{OrderID: "order-1", Owner: owner.ID, Symbol: "BTCUSDT", TotalQuantity: model.Zero, LimitPrice: model.Zero, TotalExecuted: model.Zero, AvgExecutionPrice: model.Zero, PercentExecuted: model.Zero}
	require.NoError(t, repo.AddParentOrder(context.Background(), order))

	rec := doRequest(t, s, http.MethodGet, "/orders/order-1", nil, "token-"+intruder.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleKlines_ReturnsCandlesForKnownVenue(t *testing.T) {
	s, _, _ := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/klines/Binance/BTCUSDT", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleKlines_UnknownVenueReturnsNotFound(t *testing.T) {
	s, _, _ := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/klines/Nope/BTCUSDT", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
