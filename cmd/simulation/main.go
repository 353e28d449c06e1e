package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openleague/gavel-api/internal/auth"
	"github.com/openleague/gavel-api/internal/broadcast"
	"github.com/openleague/gavel-api/internal/database"
	"github.com/openleague/gavel-api/internal/engine"
	"github.com/openleague/gavel-api/internal/ledger"
	"github.com/openleague/gavel-api/internal/types"
	"github.com/openleague/gavel-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	numBidders    = 4
	numItems      = 12
	serverAddress = "http://localhost:8080"
	jwtSecret     = "gavel-simulation-secret"
)

var items = []string{
	"Shohei Ohtani", "Aaron Judge", "Juan Soto", "Mookie Betts",
	"Ronald Acuna Jr", "Bobby Witt Jr", "Corbin Carroll", "Gunnar Henderson",
	"Julio Rodriguez", "Freddie Freeman", "Jose Ramirez", "Elly De La Cruz",
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// apiEnvelope is the standard response wrapper used by every endpoint
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// simulationClient handles HTTP communication with the auction API
// on behalf of one participant
type simulationClient struct {
	baseURL       string
	participantID string
	authToken     string
	client        *http.Client
	stats         map[string]*routeStats
}

// sharedStats are collected across all clients so the final report
// covers the whole simulation
var sharedStats = map[string]*routeStats{
	"auth":  {name: "Authentication"},
	"setup": {name: "Auction Setup"},
	"state": {name: "Get State"},
	"bid":   {name: "Place Bid"},
}

// newSimulationClient authenticates one participant against the API
func newSimulationClient(participantID, apiKey, apiSecret string) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL:       serverAddress,
		participantID: participantID,
		client:        &http.Client{Timeout: 10 * time.Second},
		stats:         sharedStats,
	}

	token, err := sc.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", participantID, err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// do issues an authenticated request and unwraps the response envelope
func (sc *simulationClient) do(method, path, statKey string, payload interface{}, idempotent bool) (json.RawMessage, int, error) {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotent {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].addFailure()
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return envelope.Data, resp.StatusCode, nil
}

// createAuction provisions a fresh auction with fast countdowns so the
// simulation completes quickly
func (sc *simulationClient) createAuction() (string, error) {
	data, status, err := sc.do("POST", "/api/v1/internal/auctions", "setup", map[string]interface{}{
		"league_id":          "sim-league",
		"commissioner_id":    sc.participantID,
		"countdown_seconds":  3,
		"anti_snipe_seconds": 1,
		"grace_seconds":      1,
		"bid_increment":      1,
		"starting_budget":    200,
	}, false)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("create auction failed with status %d", status)
	}

	var auction types.Auction
	if err := json.Unmarshal(data, &auction); err != nil {
		return "", err
	}
	if auction.AuctionID == "" {
		return "", fmt.Errorf("no auction ID in response")
	}
	return auction.AuctionID, nil
}

func (sc *simulationClient) addParticipant(auctionID, participantID string) error {
	_, status, err := sc.do("POST", fmt.Sprintf("/api/v1/internal/auctions/%s/participants", auctionID), "setup", map[string]interface{}{
		"participant_id": participantID,
		"display_name":   participantID,
	}, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("add participant failed with status %d", status)
	}
	return nil
}

func (sc *simulationClient) addCatalogItem(auctionID, itemID, name string) error {
	_, status, err := sc.do("POST", fmt.Sprintf("/api/v1/internal/auctions/%s/catalog", auctionID), "setup", map[string]interface{}{
		"item_id": itemID,
		"name":    name,
	}, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("add catalog item failed with status %d", status)
	}
	return nil
}

func (sc *simulationClient) startAuction(auctionID string) error {
	_, status, err := sc.do("POST", fmt.Sprintf("/api/v1/auctions/%s/start", auctionID), "setup", nil, false)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("start auction failed with status %d", status)
	}
	return nil
}

// getState retrieves the auction snapshot used by bidders to decide
// their next move
func (sc *simulationClient) getState(auctionID string) (*types.AuctionSnapshot, error) {
	data, status, err := sc.do("GET", fmt.Sprintf("/api/v1/auctions/%s", auctionID), "state", nil, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get state failed with status %d", status)
	}

	var snapshot types.AuctionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// placeBid submits one bid. An outbid response comes back as HTTP 409
// and is a normal outcome, not a failure.
func (sc *simulationClient) placeBid(auctionID string, amount int64) (*types.BidResult, error) {
	data, status, err := sc.do("POST", fmt.Sprintf("/api/v1/auctions/%s/bids", auctionID), "bid", map[string]interface{}{
		"amount": amount,
	}, true)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusConflict {
		return nil, fmt.Errorf("place bid failed with status %d", status)
	}

	var result types.BidResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// bidderStats tracks one bidder's outcomes for the final report
type bidderStats struct {
	accepted int
	rejected int
}

// runBidder keeps one participant bidding until the auction completes.
// The strategy is deliberately simple: whenever someone else leads and
// the budget allows, raise by the minimum increment after a short
// human-ish delay, with a per-bidder price ceiling so lots change hands.
func runBidder(sc *simulationClient, auctionID string, ceiling int64, stats *bidderStats) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(sc.participantID))))

	for {
		time.Sleep(time.Duration(100+rng.Intn(400)) * time.Millisecond)

		snapshot, err := sc.getState(auctionID)
		if err != nil {
			log.Error().Err(err).Str("participant_id", sc.participantID).Msg("Failed to get state")
			continue
		}
		if snapshot.Status == types.AuctionCompleted {
			return
		}
		if snapshot.Status != types.AuctionLive || snapshot.CurrentLot == nil {
			continue
		}

		lot := snapshot.CurrentLot
		if lot.LeadingBidderID == sc.participantID {
			continue
		}

		var budget int64
		for _, r := range snapshot.Rosters {
			if r.ParticipantID == sc.participantID {
				budget = r.Budget
			}
		}

		amount := lot.CurrentBid + 1
		if amount > ceiling || amount > budget {
			continue
		}

		result, err := sc.placeBid(auctionID, amount)
		if err != nil {
			log.Error().Err(err).Str("participant_id", sc.participantID).Msg("Failed to place bid")
			continue
		}

		if result.Accepted {
			stats.accepted++
			log.Info().
				Str("participant_id", sc.participantID).
				Str("item", lot.ItemName).
				Int64("amount", amount).
				Msg("Bid accepted")
		} else {
			stats.rejected++
			log.Debug().
				Str("participant_id", sc.participantID).
				Str("reason", result.Reason).
				Int64("current_bid", result.CurrentBid).
				Msg("Bid rejected")
		}
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sharedStats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the auction simulation
// It starts a local API server, provisions a draft with several bidders
// and lets them compete until every lot resolves
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// The commissioner provisions the auction
	commissioner, err := newSimulationClient("sim-commissioner", "sim-commissioner-key", "sim-commissioner-secret")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize commissioner client")
	}

	auctionID, err := commissioner.createAuction()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auction")
	}
	log.Info().Str("auction_id", auctionID).Msg("Auction created")

	var bidders []*simulationClient
	for i := 0; i < numBidders; i++ {
		participantID := fmt.Sprintf("bidder-%d", i+1)
		if err := commissioner.addParticipant(auctionID, participantID); err != nil {
			log.Fatal().Err(err).Str("participant_id", participantID).Msg("Failed to add participant")
		}

		bidder, err := newSimulationClient(participantID,
			fmt.Sprintf("%s-key", participantID), fmt.Sprintf("%s-secret", participantID))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize bidder client")
		}
		bidders = append(bidders, bidder)
	}

	for i := 0; i < numItems; i++ {
		itemID := fmt.Sprintf("item-%03d", i+1)
		if err := commissioner.addCatalogItem(auctionID, itemID, items[i%len(items)]); err != nil {
			log.Fatal().Err(err).Str("item_id", itemID).Msg("Failed to add catalog item")
		}
	}

	if err := commissioner.startAuction(auctionID); err != nil {
		log.Fatal().Err(err).Msg("Failed to start auction")
	}

	startTime := time.Now()
	log.Info().
		Str("auction_id", auctionID).
		Int("bidders", numBidders).
		Int("items", numItems).
		Msg("Auction live, bidders competing")

	// Each bidder values lots differently so budgets drain unevenly
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	allStats := make([]bidderStats, numBidders)
	var wg sync.WaitGroup
	for i, bidder := range bidders {
		wg.Add(1)
		ceiling := int64(10 + rng.Intn(40))
		go func(i int, sc *simulationClient, ceiling int64) {
			defer wg.Done()
			runBidder(sc, auctionID, ceiling, &allStats[i])
		}(i, bidder, ceiling)
	}
	wg.Wait()

	duration := time.Since(startTime)

	// Final state drives the report
	snapshot, err := commissioner.getState(auctionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get final state")
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("AUCTION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	totalAccepted, totalRejected := 0, 0
	for _, s := range allStats {
		totalAccepted += s.accepted
		totalRejected += s.rejected
	}

	fmt.Printf(`
Draft Statistics
----------------
Lots:             %d
Bids Accepted:    %d
Bids Rejected:    %d
Duration:         %v

Roster Results
--------------
`, numItems, totalAccepted, totalRejected, duration.Round(time.Millisecond))

	for _, roster := range snapshot.Rosters {
		spent := int64(200) - roster.Budget
		barLength := int(float64(roster.SlotsFilled) * 2)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-16s: %s %d items, $%d spent, $%d remaining\n",
			roster.DisplayName, bar, roster.SlotsFilled, spent, roster.Budget)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Str("status", snapshot.Status).
		Int("bids_accepted", totalAccepted).
		Int("bids_rejected", totalRejected).
		Dur("duration", duration).
		Msg("Simulation completed")

	printPerformanceStats()
}

// startServer initializes and starts the auction API server
// Sets up all required services, handlers and routes
func startServer() error {
	gin.SetMode(gin.ReleaseMode)

	db, err := database.NewDatabase("file:simulation?mode=memory&cache=shared")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	hub := broadcast.NewHub()

	authService := auth.NewService(jwtSecret)
	authService.RegisterParticipant("sim-commissioner-key", "sim-commissioner-secret",
		"sim-commissioner", auth.RoleCommissioner)
	for i := 0; i < numBidders; i++ {
		participantID := fmt.Sprintf("bidder-%d", i+1)
		authService.RegisterParticipant(
			fmt.Sprintf("%s-key", participantID),
			fmt.Sprintf("%s-secret", participantID),
			participantID, auth.RoleBidder)
	}

	auctionEngine := engine.NewEngine(db, hub, engine.DefaultSettings())
	ledgerService := ledger.NewService(db, hub)

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	engineHandlers := engine.NewGinHandlers(auctionEngine)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	setupRoutes(router, authService, authHandlers, engineHandlers, ledgerHandlers)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		auctions := v1.Group("/auctions")
		auctions.Use(middleware.JWTAuth(authService))
		{
			auctions.GET("/:auction_id", engineHandlers.GetStateHandler())
			auctions.POST("/:auction_id/bids", ledgerHandlers.PlaceBidHandler())

			control := auctions.Group("")
			control.Use(middleware.CommissionerOnly())
			{
				control.POST("/:auction_id/start", engineHandlers.StartAuctionHandler())
				control.POST("/:auction_id/pause", engineHandlers.PauseAuctionHandler())
				control.POST("/:auction_id/resume", engineHandlers.ResumeAuctionHandler())
			}
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(authService), middleware.CommissionerOnly())
		{
			internal.POST("/auctions", engineHandlers.CreateAuctionHandler())
			internal.POST("/auctions/:auction_id/participants", engineHandlers.AddParticipantHandler())
			internal.POST("/auctions/:auction_id/catalog", engineHandlers.AddCatalogItemHandler())
		}
	}
}
