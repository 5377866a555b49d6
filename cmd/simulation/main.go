package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ksred/klear-options/internal/auth"
	"github.com/ksred/klear-options/internal/settlement"
	"github.com/ksred/klear-options/internal/trading"
	"github.com/ksred/klear-options/internal/types"
)

var directions = []types.Direction{types.DirectionCall, types.DirectionPut}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks latency for an API endpoint. Workers record concurrently.
type routeStats struct {
	name string

	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) record(d time.Duration, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if err != nil {
		rs.failures++
	}
}

// calculate returns min, max, mean, median, p95 and p99 durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), rs.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	median = sorted[len(sorted)/2]

	p95 = sorted[int(math.Ceil(float64(len(sorted))*0.95))-1]
	p99 = sorted[int(math.Ceil(float64(len(sorted))*0.99))-1]
	return
}

// simulationClient handles HTTP communication with the options API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	order     []string
	stats     map[string]*routeStats
}

func newSimulationClient(baseURL string) *simulationClient {
	sc := &simulationClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		order:   []string{"auth", "reset", "create", "get", "sweep"},
		stats: map[string]*routeStats{
			"auth":   {name: "Authentication"},
			"reset":  {name: "Demo Reset"},
			"create": {name: "Create Order"},
			"get":    {name: "Get Order"},
			"sweep":  {name: "Settlement Sweep"},
		},
	}
	return sc
}

// envelope mirrors the API response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one request, records its latency under route and decodes the data field into out
func (sc *simulationClient) call(ctx context.Context, route, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		sc.stats[route].record(time.Since(start), err)
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Int("status", resp.StatusCode).Str("response", string(respBody)).Msg("API response")

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s failed with status %d: %s: %s", route, resp.StatusCode, env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("%s failed with status %d", route, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// authenticate exchanges API credentials for a JWT
func (sc *simulationClient) authenticate(ctx context.Context, creds auth.Credentials) error {
	var token auth.TokenResponse
	if err := sc.call(ctx, "auth", http.MethodPost, "/api/v1/auth/token", creds, &token); err != nil {
		return err
	}
	sc.authToken = token.Token
	return nil
}

func (sc *simulationClient) resetDemo(ctx context.Context) (int64, error) {
	var bal types.BalanceResponse
	err := sc.call(ctx, "reset", http.MethodPost, "/api/v1/accounts/demo/reset", nil, &bal)
	return bal.Balance, err
}

func (sc *simulationClient) createOrder(ctx context.Context, req trading.CreateOrderRequest) (*types.Order, error) {
	var resp types.CreateOrderResponse
	if err := sc.call(ctx, "create", http.MethodPost, "/api/v1/orders", req, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil || resp.Order.OrderID == "" {
		return nil, fmt.Errorf("no order in create response")
	}
	return resp.Order, nil
}

func (sc *simulationClient) getOrder(ctx context.Context, orderID string) (*types.Order, error) {
	var order types.Order
	err := sc.call(ctx, "get", http.MethodGet, "/api/v1/orders/"+orderID, nil, &order)
	return &order, err
}

func (sc *simulationClient) sweep(ctx context.Context) (*settlement.SweepReport, error) {
	var report settlement.SweepReport
	err := sc.call(ctx, "sweep", http.MethodPost, "/api/v1/internal/settlement/sweep", nil, &report)
	return &report, err
}

// printPerformanceStats renders latency statistics for every API endpoint
func (sc *simulationClient) printPerformanceStats(out io.Writer) {
	fmt.Fprintln(out, "\nAPI Performance Statistics")
	table := tablewriter.NewWriter(out)
	table.Header("Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		table.Append(
			stats.name,
			fmt.Sprintf("%d", stats.totalCalls),
			fmt.Sprintf("%d", stats.failures),
			min.Round(time.Millisecond).String(),
			max.Round(time.Millisecond).String(),
			mean.Round(time.Millisecond).String(),
			median.Round(time.Millisecond).String(),
			p95.Round(time.Millisecond).String(),
			p99.Round(time.Millisecond).String(),
		)
	}
	table.Render()
}

type options struct {
	baseURL      string
	orders       int
	workers      int
	perMinute    float64
	amount       int64
	testDuration int
	sweep        bool
	waitTimeout  time.Duration
	assets       []string
}

func parseOptions() options {
	var o options
	flag.StringVar(&o.baseURL, "url", "http://localhost:8080", "API base URL")
	flag.IntVar(&o.orders, "orders", 50, "number of orders to place")
	flag.IntVar(&o.workers, "workers", 5, "concurrent order placers")
	flag.Float64Var(&o.perMinute, "rate", 90, "order placements per minute across all workers")
	flag.Int64Var(&o.amount, "amount", 1_000, "stake per order in minor units")
	flag.IntVar(&o.testDuration, "test-duration", 0, "sub-minute duration in seconds, when enabled on the server")
	flag.BoolVar(&o.sweep, "sweep", true, "trigger settlement sweeps instead of waiting for the scheduler")
	flag.DurationVar(&o.waitTimeout, "wait", 3*time.Minute, "how long to wait for orders to resolve")
	flag.Parse()
	o.assets = []string{"btc-usd", "eth-usd", "eur-usd"}
	return o
}

type outcome struct {
	mu       sync.Mutex
	placed   []*types.Order
	rejected map[string]int
}

func (o *outcome) add(order *types.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.placed = append(o.placed, order)
}

func (o *outcome) reject(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[err.Error()]++
}

// main drives a load simulation against a running server: it places demo
// orders at a paced rate and then waits for every order to resolve
func main() {
	opts := parseOptions()
	ctx := context.Background()
	sc := newSimulationClient(opts.baseURL)

	// the internal test key may both trade and trigger sweeps
	if err := sc.authenticate(ctx, auth.Credentials{APIKey: auth.TestInternalKey, APISecret: auth.TestInternalSecret}); err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate")
	}

	balance, err := sc.resetDemo(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to reset demo balance")
	}
	log.Info().Int64("balance", balance).Int("target_orders", opts.orders).Msg("Starting simulation")

	started := time.Now()
	results := placeOrders(ctx, sc, opts)
	log.Info().Int("placed", len(results.placed)).Dur("elapsed", time.Since(started)).Msg("All orders submitted")

	final := awaitResolution(ctx, sc, opts, results.placed)

	printSummary(os.Stdout, results, final, time.Since(started))
	sc.printPerformanceStats(os.Stdout)
}

// placeOrders submits opts.orders demo orders from a worker pool sharing one limiter
func placeOrders(ctx context.Context, sc *simulationClient, opts options) *outcome {
	results := &outcome{rejected: make(map[string]int)}
	limiter := rate.NewLimiter(rate.Limit(opts.perMinute/60.0), opts.workers)

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < opts.orders; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < opts.workers; w++ {
		workerID := w
		g.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for range jobs {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}

				req := trading.CreateOrderRequest{
					AccountType:     types.AccountDemo,
					AssetID:         opts.assets[rng.Intn(len(opts.assets))],
					Direction:       directions[rng.Intn(len(directions))],
					Amount:          opts.amount,
					DurationMinutes: 1,
				}
				if opts.testDuration > 0 {
					req.DurationMinutes = 0
					req.DurationSeconds = opts.testDuration
				}

				order, err := sc.createOrder(gctx, req)
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Str("asset_id", req.AssetID).Msg("Failed to create order")
					results.reject(err)
					continue
				}
				results.add(order)
				log.Info().
					Int("worker_id", workerID).
					Str("order_id", order.OrderID).
					Str("asset_id", order.AssetID).
					Str("direction", string(order.Direction)).
					Str("entry_price", order.EntryPrice.String()).
					Time("exit_time", order.ExitTime).
					Msg("Order created")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Order placement stopped early")
	}
	return results
}

// awaitResolution polls until every placed order is closed or opts.waitTimeout passes
func awaitResolution(ctx context.Context, sc *simulationClient, opts options, placed []*types.Order) map[string]*types.Order {
	final := make(map[string]*types.Order, len(placed))
	if len(placed) == 0 {
		return final
	}

	var lastExpiry time.Time
	for _, o := range placed {
		if o.ExitTime.After(lastExpiry) {
			lastExpiry = o.ExitTime
		}
	}

	deadline := time.Now().Add(opts.waitTimeout)
	if wait := time.Until(lastExpiry); wait > 0 {
		log.Info().Dur("wait", wait.Round(time.Second)).Msg("Waiting for the last order to expire")
		time.Sleep(wait)
	}

	for time.Now().Before(deadline) {
		if opts.sweep {
			report, err := sc.sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Sweep request failed")
			} else {
				log.Info().Int("due", report.Due).Int("won", report.Won).Int("lost", report.Lost).Int("deferred", report.Deferred).Msg("Sweep completed")
			}
		}

		open := 0
		for _, o := range placed {
			if cur, ok := final[o.OrderID]; ok && cur.Status.Closed() {
				continue
			}
			cur, err := sc.getOrder(ctx, o.OrderID)
			if err != nil {
				log.Warn().Err(err).Str("order_id", o.OrderID).Msg("Failed to fetch order")
				open++
				continue
			}
			final[o.OrderID] = cur
			if !cur.Status.Closed() {
				open++
			}
		}
		if open == 0 {
			return final
		}
		log.Info().Int("open", open).Msg("Orders still active")
		time.Sleep(2 * time.Second)
	}

	log.Warn().Msg("Timed out waiting for orders to resolve")
	return final
}

func printSummary(out io.Writer, results *outcome, final map[string]*types.Order, elapsed time.Duration) {
	type assetRow struct {
		won, lost, active int
		staked, profit    int64
	}
	rows := make(map[string]*assetRow)
	var won, lost, active int
	for _, o := range results.placed {
		row, ok := rows[o.AssetID]
		if !ok {
			row = &assetRow{}
			rows[o.AssetID] = row
		}
		row.staked += o.Amount

		cur := final[o.OrderID]
		switch {
		case cur == nil || !cur.Status.Closed():
			row.active++
			active++
		case cur.Status == types.StatusWon:
			row.won++
			won++
		default:
			row.lost++
			lost++
		}
		if cur != nil && cur.Profit != nil {
			row.profit += *cur.Profit
		}
	}

	rejected := 0
	for _, n := range results.rejected {
		rejected += n
	}

	fmt.Fprintln(out, "\nOPTIONS SIMULATION SUMMARY")
	fmt.Fprintf(out, "Placed: %d  Rejected: %d  Won: %d  Lost: %d  Unresolved: %d  Duration: %v\n",
		len(results.placed), rejected, won, lost, active, elapsed.Round(time.Millisecond))

	assetIDs := make([]string, 0, len(rows))
	for id := range rows {
		assetIDs = append(assetIDs, id)
	}
	sort.Strings(assetIDs)

	table := tablewriter.NewWriter(out)
	table.Header("Asset", "Won", "Lost", "Active", "Staked", "Profit")
	for _, id := range assetIDs {
		r := rows[id]
		table.Append(id,
			fmt.Sprintf("%d", r.won),
			fmt.Sprintf("%d", r.lost),
			fmt.Sprintf("%d", r.active),
			fmt.Sprintf("%d", r.staked),
			fmt.Sprintf("%d", r.profit),
		)
	}
	table.Render()

	if len(results.rejected) > 0 {
		fmt.Fprintln(out, "\nRejections")
		rt := tablewriter.NewWriter(out)
		rt.Header("Error", "Count")
		for msg, n := range results.rejected {
			rt.Append(msg, fmt.Sprintf("%d", n))
		}
		rt.Render()
	}
}
