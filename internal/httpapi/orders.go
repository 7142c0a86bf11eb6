package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/model"
	"github.com/quantrail/twapbook/internal/twap"
)

type createTWAPRequest struct {
	Symbol          string      `json:"symbol"`
	Exchanges       []string    `json:"exchanges,omitempty"` // defaults to every registered venue when empty
	Side            string      `json:"side"`
	TotalQuantity   json.Number `json:"total_quantity"`
	LimitPrice      json.Number `json:"limit_price,omitempty"` // empty/"0" means no limit
	DurationSeconds int         `json:"duration_seconds"`
}

type orderDTO struct {
	OrderID           string        `json:"order_id"`
	Symbol            string        `json:"symbol"`
	Venues            []model.Venue `json:"venues"`
	Side              string        `json:"side"`
	Status            string        `json:"status"`
	TotalQuantity     string        `json:"total_quantity"`
	LimitPrice        string        `json:"limit_price"`
	DurationSecs      int           `json:"duration_secs"`
	LotsCount         int           `json:"lots_count"`
	TotalExecuted     string        `json:"total_executed"`
	AvgExecutionPrice string        `json:"avg_execution_price"`
	PercentExecuted   string        `json:"percent_executed"`
	CreatedAt         time.Time     `json:"created_at"`
}

func toOrderDTO(o model.ParentOrder) orderDTO {
	return orderDTO{
		OrderID: o.OrderID, Symbol: o.Symbol, Venues: o.Venues, Side: string(o.Side), Status: string(o.Status),
		TotalQuantity: o.TotalQuantity.String(), LimitPrice: o.LimitPrice.String(), DurationSecs: o.DurationSecs,
		LotsCount: o.LotsCount, TotalExecuted: o.TotalExecuted.String(), AvgExecutionPrice: o.AvgExecutionPrice.String(),
		PercentExecuted: o.PercentExecuted.String(), CreatedAt: o.CreatedAt,
	}
}

func (s *Server) handleCreateTWAP(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req createTWAPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.Symbol == "" {
		writeError(w, apperr.New(apperr.BadRequest, "symbol is required"))
		return
	}
	if req.Side != string(model.SideBuy) && req.Side != string(model.SideSell) {
		writeError(w, apperr.New(apperr.BadRequest, "side must be buy or sell"))
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, apperr.New(apperr.BadRequest, "duration_seconds must be positive"))
		return
	}

	totalQty, err := model.ParseDecimal(req.TotalQuantity.String())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, "invalid total_quantity", err))
		return
	}

	limitPrice := model.Zero
	if req.LimitPrice.String() != "" {
		limitPrice, err = model.ParseDecimal(req.LimitPrice.String())
		if err != nil {
			writeError(w, apperr.Wrap(apperr.BadRequest, "invalid limit_price", err))
			return
		}
	}

	venues := s.registry.Names()
	if len(req.Exchanges) > 0 {
		venues = make([]model.Venue, len(req.Exchanges))
		for i, v := range req.Exchanges {
			venues[i] = model.Venue(v)
		}
	}

	order := &model.ParentOrder{
		OrderID:           uuid.NewString(),
		Owner:             user.ID,
		Symbol:            req.Symbol,
		Venues:            venues,
		Side:              model.Side(req.Side),
		Status:            model.StatusPending,
		TotalQuantity:     totalQty,
		LimitPrice:        limitPrice,
		DurationSecs:      req.DurationSeconds,
		CreatedAt:         time.Now().UTC(),
		TotalExecuted:     model.Zero,
		AvgExecutionPrice: model.Zero,
		PercentExecuted:   model.Zero,
	}

	if err := s.repo.AddParentOrder(r.Context(), order); err != nil {
		writeError(w, err)
		return
	}

	engine := twap.New(s.repo, s.book, s.log)
	go func() {
		ctx := context.Background()
		if err := engine.Run(ctx, order, nil); err != nil {
			s.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("twap order run ended with error")
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"token_id": order.OrderID})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	orders, err := s.repo.GetOrders(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if user.Role == model.RoleAdmin {
		if all, err := s.listAllOrdersForAdmin(r.Context()); err == nil {
			orders = all
		}
	}

	if orderID := r.URL.Query().Get("order_id"); orderID != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if o.OrderID == orderID {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}

	dtos := make([]orderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) listAllOrdersForAdmin(ctx context.Context) ([]model.ParentOrder, error) {
	users, err := s.auth.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.ParentOrder
	for _, u := range users {
		orders, err := s.repo.GetOrders(ctx, u.ID)
		if err != nil {
			continue
		}
		out = append(out, orders...)
	}
	return out, nil
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	orderID := mux.Vars(r)["order_id"]

	order, err := s.repo.GetOrder(r.Context(), user.ID, orderID)
	if err != nil && user.Role == model.RoleAdmin && apperr.Is(err, apperr.NotFound) {
		order, err = s.findOrderAsAdmin(r.Context(), orderID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	executions, err := s.repo.GetExecutions(r.Context(), order.Owner, orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toExecutionDTOs(executions))
}

func (s *Server) findOrderAsAdmin(ctx context.Context, orderID string) (*model.ParentOrder, error) {
	users, err := s.auth.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if order, err := s.repo.GetOrder(ctx, u.ID, orderID); err == nil {
			return order, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "order not found: "+orderID)
}

type executionDTO struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  string    `json:"quantity"`
	Price     string    `json:"price"`
	Venue     string    `json:"venue"`
	Timestamp time.Time `json:"timestamp"`
}

func toExecutionDTOs(execs []model.Execution) []executionDTO {
	out := make([]executionDTO, len(execs))
	for i, e := range execs {
		out[i] = executionDTO{
			ID: e.ID, Symbol: e.Symbol, Side: string(e.Side), Quantity: e.Quantity.String(),
			Price: e.Price.String(), Venue: string(e.Venue), Timestamp: e.Timestamp,
		}
	}
	return out
}
