package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/metrics"
	"github.com/quantrail/twapbook/internal/model"
)

// Postgres implements Repository against the three tables users,
// twap_orders and twap_executions. It was declared as an indirect
// dependency by the teacher (never actually used there) and is wired
// in here as the module's real persistence layer, in pgx's pool-based
// idiom rather than database/sql.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pgxpool against connStr and verifies it with a ping,
// mirroring the teacher's database.Connect.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("repository: failed to ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func observe(method string, start time.Time) {
	metrics.RepositoryLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func venuesToStrings(venues []model.Venue) []string {
	out := make([]string, len(venues))
	for i, v := range venues {
		out[i] = string(v)
	}
	return out
}

func stringsToVenues(raw []string) []model.Venue {
	out := make([]model.Venue, len(raw))
	for i, v := range raw {
		out[i] = model.Venue(v)
	}
	return out
}

func (p *Postgres) AddParentOrder(ctx context.Context, order *model.ParentOrder) error {
	defer observe("add_parent_order", time.Now())

	const q = `
		INSERT INTO twap_orders
			(order_id, owner, symbol, venues, side, status, total_quantity, limit_price,
			 duration_secs, created_at, lots_count, total_executed, avg_execution_price, percent_executed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`
	_, err := p.pool.Exec(ctx, q,
		order.OrderID, order.Owner, order.Symbol, venuesToStrings(order.Venues), string(order.Side), string(order.Status),
		order.TotalQuantity.String(), order.LimitPrice.String(), order.DurationSecs, order.CreatedAt,
		order.LotsCount, order.TotalExecuted.String(), order.AvgExecutionPrice.String(), order.PercentExecuted.String(),
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to insert parent order", err)
	}
	return nil
}

func (p *Postgres) AppendExecution(ctx context.Context, exec model.Execution) (int64, error) {
	defer observe("append_execution", time.Now())

	const q = `
		INSERT INTO twap_executions (order_id, symbol, side, quantity, price, venue, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`
	var id int64
	err := p.pool.QueryRow(ctx, q,
		exec.OrderID, exec.Symbol, string(exec.Side), exec.Quantity.String(), exec.Price.String(), string(exec.Venue), exec.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "failed to insert execution", err)
	}
	return id, nil
}

func (p *Postgres) UpdateParentState(ctx context.Context, order *model.ParentOrder) error {
	defer observe("update_parent_state", time.Now())

	const q = `
		UPDATE twap_orders
		SET status = $1, lots_count = $2, total_executed = $3, avg_execution_price = $4, percent_executed = $5
		WHERE order_id = $6 AND owner = $7
	`
	tag, err := p.pool.Exec(ctx, q,
		string(order.Status), order.LotsCount, order.TotalExecuted.String(), order.AvgExecutionPrice.String(), order.PercentExecuted.String(),
		order.OrderID, order.Owner,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update parent order state", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "order not found: "+order.OrderID)
	}
	return nil
}

func (p *Postgres) GetOrders(ctx context.Context, owner string) ([]model.ParentOrder, error) {
	defer observe("get_orders", time.Now())

	const q = `
		SELECT order_id, owner, symbol, venues, side, status, total_quantity, limit_price,
		       duration_secs, created_at, lots_count, total_executed, avg_execution_price, percent_executed
		FROM twap_orders
		WHERE owner = $1
		ORDER BY created_at DESC
	`
	rows, err := p.pool.Query(ctx, q, owner)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to query orders", err)
	}
	defer rows.Close()

	var out []model.ParentOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan order row", err)
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

func (p *Postgres) GetOrder(ctx context.Context, owner, orderID string) (*model.ParentOrder, error) {
	defer observe("get_order", time.Now())

	const q = `
		SELECT order_id, owner, symbol, venues, side, status, total_quantity, limit_price,
		       duration_secs, created_at, lots_count, total_executed, avg_execution_price, percent_executed
		FROM twap_orders
		WHERE order_id = $1 AND owner = $2
	`
	row := p.pool.QueryRow(ctx, q, orderID, owner)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "order not found: "+orderID)
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to scan order row", err)
	}
	return &order, nil
}

func (p *Postgres) GetExecutions(ctx context.Context, owner, orderID string) ([]model.Execution, error) {
	defer observe("get_executions", time.Now())

	if _, err := p.GetOrder(ctx, owner, orderID); err != nil {
		return nil, err
	}

	const q = `
		SELECT id, order_id, symbol, side, quantity, price, venue, timestamp
		FROM twap_executions
		WHERE order_id = $1
		ORDER BY timestamp ASC
	`
	rows, err := p.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to query executions", err)
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		var e model.Execution
		var side, venue, qty, price string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Symbol, &side, &qty, &price, &venue, &e.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan execution row", err)
		}
		e.Side = model.Side(side)
		e.Venue = model.Venue(venue)
		if e.Quantity, err = model.ParseDecimal(qty); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "corrupt quantity in execution row", err)
		}
		if e.Price, err = model.ParseDecimal(price); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "corrupt price in execution row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateUser(ctx context.Context, user model.User, passwordHash string) error {
	defer observe("create_user", time.Now())

	const q = `INSERT INTO users (id, username, role, password_hash) VALUES ($1,$2,$3,$4)`
	_, err := p.pool.Exec(ctx, q, user.ID, user.Username, user.Role, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.Duplicate, "username already registered: "+user.Username)
		}
		return apperr.Wrap(apperr.Internal, "failed to insert user", err)
	}
	return nil
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (model.User, string, error) {
	defer observe("get_user_by_username", time.Now())

	const q = `SELECT id, username, role, password_hash FROM users WHERE username = $1`
	var u model.User
	var hash string
	err := p.pool.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.Role, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, "", apperr.New(apperr.NotFound, "user not found: "+username)
		}
		return model.User{}, "", apperr.Wrap(apperr.Internal, "failed to query user", err)
	}
	return u, hash, nil
}

func (p *Postgres) DeleteUser(ctx context.Context, username string) error {
	defer observe("delete_user", time.Now())

	tag, err := p.pool.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "user not found: "+username)
	}
	return nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]model.User, error) {
	defer observe("list_users", time.Now())

	rows, err := p.pool.Query(ctx, `SELECT id, username, role FROM users ORDER BY username`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to query users", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan user row", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// rowScanner abstracts over pgx.Row and pgx.Rows, which share Scan but
// not a common interface in pgx/v5.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (model.ParentOrder, error) {
	var o model.ParentOrder
	var venues []string
	var side, status, totalQty, limitPrice, totalExec, avgPrice, pctExec string

	err := row.Scan(
		&o.OrderID, &o.Owner, &o.Symbol, &venues, &side, &status, &totalQty, &limitPrice,
		&o.DurationSecs, &o.CreatedAt, &o.LotsCount, &totalExec, &avgPrice, &pctExec,
	)
	if err != nil {
		return model.ParentOrder{}, err
	}

	o.Venues = stringsToVenues(venues)
	o.Side = model.Side(side)
	o.Status = model.OrderStatus(status)

	for _, pair := range []struct {
		dst *model.Decimal
		src string
	}{
		{&o.TotalQuantity, totalQty}, {&o.LimitPrice, limitPrice},
		{&o.TotalExecuted, totalExec}, {&o.AvgExecutionPrice, avgPrice}, {&o.PercentExecuted, pctExec},
	} {
		d, err := model.ParseDecimal(pair.src)
		if err != nil {
			return model.ParentOrder{}, err
		}
		*pair.dst = d
	}

	return o, nil
}
