//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderdesk/internal/domain/order"
	"github.com/xenking/orderdesk/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("orderdesk"),
		postgres.WithUsername("orderdesk"),
		postgres.WithPassword("orderdesk"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("getting connection string: %v", err)
	}

	if err := RunMigrations(connStr); err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("running migrations: %v", err)
	}

	testPool, err = NewPool(ctx, connStr, PoolConfig{MaxConns: 8})
	if err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("creating pool: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("terminating postgres container: %v", err)
	}
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE notification_outbox, order_items, orders, customers, products RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func seedProduct(t *testing.T, p product.Product) int64 {
	t.Helper()
	created, err := NewProductRepository(testPool).Upsert(context.Background(), &p)
	require.NoError(t, err)
	require.True(t, created)
	return p.ID
}

func newTestCoordinator(t *testing.T, store *Store) *order.Coordinator {
	t.Helper()
	c, err := order.NewCoordinator(store, store.Orders())
	require.NoError(t, err)
	return c
}

func countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, testPool.QueryRow(context.Background(), `SELECT count(*) FROM `+table).Scan(&n))
	return n
}

func request(day time.Time, items ...order.CartItem) order.PlaceOrderRequest {
	return order.PlaceOrderRequest{
		Email:            "giulia@example.com",
		Name:             "Giulia",
		Surname:          "Bianchi",
		Phone:            "3331112222",
		DeliveryDate:     day,
		DeliveryLocation: "Piazza Maggiore 1",
		Items:            items,
	}
}

func TestPlaceOrder_Commit(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewStore(testPool)
	c := newTestCoordinator(t, store)

	cake := seedProduct(t, product.Product{Name: "Torta", Price: decimal.RequireFromString("12.50"), Available: true, Category: "dolci"})
	basket := seedProduct(t, product.Product{
		Name: "Cesto", Price: decimal.RequireFromString("25.00"), Available: true, Category: "regali",
		MinUnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("25.00")),
		MaxUnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("150.00")),
	})

	day := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	o, err := c.PlaceOrder(ctx, request(day,
		order.CartItem{ProductID: cake, Quantity: 2},
		order.CartItem{ProductID: basket, Quantity: 3, ConfigurationNotes: "vini rossi", SubmittedTotal: decimal.NewNullDecimal(decimal.NewFromInt(100))},
	))
	require.NoError(t, err)

	assert.Equal(t, "125.00", o.Total.StringFixed(2))
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, day, o.DeliveryDate)
	require.NotNil(t, o.Customer)
	assert.Equal(t, "Piazza Maggiore 1", o.Customer.Address)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Torta", o.Items[0].ProductName)
	assert.Equal(t, "33.3333", o.Items[1].UnitPrice.String())
	assert.Equal(t, "vini rossi", o.Items[1].ConfigurationNotes)

	assert.Equal(t, 2, countRows(t, "notification_outbox"))
}

func TestPlaceOrder_RollbackLeavesNoRows(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewStore(testPool)
	c := newTestCoordinator(t, store)

	cake := seedProduct(t, product.Product{Name: "Torta", Price: decimal.RequireFromString("12.50"), Available: true})

	_, err := c.PlaceOrder(ctx, request(time.Now(),
		order.CartItem{ProductID: cake},
		order.CartItem{ProductID: cake + 1000},
	))
	var nf *order.ProductNotFoundError
	require.True(t, errors.As(err, &nf))

	assert.Zero(t, countRows(t, "orders"))
	assert.Zero(t, countRows(t, "order_items"))
	assert.Zero(t, countRows(t, "customers"))
	assert.Zero(t, countRows(t, "notification_outbox"))
}

func TestPlaceOrder_StockAndEmailReuse(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewStore(testPool)
	c := newTestCoordinator(t, store)

	three := 3
	panettone := seedProduct(t, product.Product{Name: "Panettone", Price: decimal.RequireFromString("28.00"), Available: true, Stock: &three})

	first, err := c.PlaceOrder(ctx, request(time.Now(), order.CartItem{ProductID: panettone, Quantity: 2}))
	require.NoError(t, err)

	req := request(time.Now(), order.CartItem{ProductID: panettone, Quantity: 2})
	req.Email = "GIULIA@example.com "
	_, err = c.PlaceOrder(ctx, req)
	var stockErr *order.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))

	second, err := c.PlaceOrder(ctx, request(time.Now(), order.CartItem{ProductID: panettone}))
	require.NoError(t, err)
	assert.Equal(t, first.CustomerID, second.CustomerID)

	p, err := store.Products().GetByID(ctx, panettone)
	require.NoError(t, err)
	require.NotNil(t, p.Stock)
	assert.Equal(t, 0, *p.Stock)
	assert.Equal(t, 1, countRows(t, "customers"))
}

func TestPlaceOrder_ConcurrentOppositeCarts(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewStore(testPool)
	c := newTestCoordinator(t, store)

	const rounds, workers = 20, 4
	stock := rounds * workers
	first := seedProduct(t, product.Product{Name: "Pandoro", Price: decimal.RequireFromString("20.00"), Available: true, Stock: &stock})
	second := seedProduct(t, product.Product{Name: "Torrone", Price: decimal.RequireFromString("8.00"), Available: true, Stock: &stock})

	for round := range rounds {
		g, gctx := errgroup.WithContext(ctx)
		for w := range workers {
			cart := []order.CartItem{{ProductID: first, Quantity: 1}, {ProductID: second, Quantity: 1}}
			if w%2 == 1 {
				cart[0], cart[1] = cart[1], cart[0]
			}
			req := request(time.Now(), cart...)
			req.Email = fmt.Sprintf("cliente%d@example.com", w)
			g.Go(func() error {
				_, err := c.PlaceOrder(gctx, req)
				return err
			})
		}
		require.NoError(t, g.Wait(), "round %d", round)
	}

	assert.Equal(t, rounds*workers, countRows(t, "orders"))
	for _, id := range []int64{first, second} {
		p, err := store.Products().GetByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, p.Stock)
		assert.Zero(t, *p.Stock)
	}
}

func TestProductRepository_LockOutsideTx(t *testing.T) {
	resetTables(t)
	id := seedProduct(t, product.Product{Name: "Torta", Price: decimal.RequireFromString("12.50"), Available: true})
	require.NoError(t, NewProductRepository(testPool).Lock(context.Background(), []int64{id, id + 1}))
}

func TestDeliveryWindow_Postgres(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewStore(testPool)
	c := newTestCoordinator(t, store)

	cake := seedProduct(t, product.Product{Name: "Torta", Price: decimal.RequireFromString("10.00"), Available: true})
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	var placed []int64
	for _, offset := range []int{6, 3, 0, -1, 5} {
		o, err := c.PlaceOrder(ctx, request(today.AddDate(0, 0, offset), order.CartItem{ProductID: cake}))
		require.NoError(t, err)
		placed = append(placed, o.ID)
	}

	due, err := order.NewDeliveryWindow(store.Orders(), order.DefaultWindowDays).Run(ctx, today)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, placed[2], due[0].ID)
	assert.Equal(t, placed[1], due[1].ID)
	assert.Equal(t, placed[4], due[2].ID)
	require.Len(t, due[0].Items, 1)
	assert.Equal(t, "Torta", due[0].Items[0].ProductName)
	assert.Equal(t, "giulia@example.com", due[0].Customer.Email)
}

func TestUpdateStatus_Postgres(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewStore(testPool)
	c := newTestCoordinator(t, store)

	cake := seedProduct(t, product.Product{Name: "Torta", Price: decimal.RequireFromString("10.00"), Available: true})
	o, err := c.PlaceOrder(ctx, request(time.Now(), order.CartItem{ProductID: cake}))
	require.NoError(t, err)

	updated, err := c.UpdateStatus(ctx, o.ID, "spedito")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, updated.Status)

	_, err = c.UpdateStatus(ctx, o.ID+100, "spedito")
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOutbox_ClaimLease(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewStore(testPool)
	c := newTestCoordinator(t, store)

	cake := seedProduct(t, product.Product{Name: "Torta", Price: decimal.RequireFromString("10.00"), Available: true})
	_, err := c.PlaceOrder(ctx, request(time.Now(), order.CartItem{ProductID: cake}))
	require.NoError(t, err)

	outbox := store.Outbox()
	claimed, err := outbox.Claim(ctx, 10, time.Minute, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.NotEmpty(t, claimed[0].EventID)

	again, err := outbox.Claim(ctx, 10, time.Minute, 3)
	require.NoError(t, err)
	assert.Empty(t, again, "leased rows are not claimable")

	require.NoError(t, outbox.MarkSent(ctx, claimed[0].ID))
	require.NoError(t, outbox.MarkFailed(ctx, claimed[1].ID, "smtp down", 0))

	retried, err := outbox.Claim(ctx, 10, time.Minute, 3)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, claimed[1].ID, retried[0].ID)
	assert.Equal(t, 2, retried[0].Attempts)

	pending, err := outbox.Pending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}
