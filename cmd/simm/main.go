package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/openweight/simm/internal/category"
	"github.com/openweight/simm/internal/config"
	"github.com/openweight/simm/internal/datafetcher"
	"github.com/openweight/simm/internal/ledger"
	"github.com/openweight/simm/internal/logger"
	"github.com/openweight/simm/internal/oracle"
	"github.com/openweight/simm/internal/orchestrator"
	"github.com/openweight/simm/internal/pool"
	"github.com/openweight/simm/internal/state"
	"github.com/openweight/simm/internal/types"
	"github.com/openweight/simm/internal/web"
)

// main is the entry point for the index daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Index daemon starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Connect to the chain the tracked pairs live on
	ethClient, err := ethclient.Dial(config.EthRPC)
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", config.EthRPC).Msg("Failed to connect to JSON-RPC endpoint")
	}
	defer ethClient.Close()
	log.Info().Str("endpoint", config.EthRPC).Msg("JSON-RPC connected")

	// --- 2. Market Data Wiring ---
	pairSource, err := datafetcher.NewPairSource(ethClient, config.RefToken, config.TrackedTokens)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve pair bindings")
	}

	priceOracle, err := oracle.New(oracle.Config{Source: pairSource})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create price oracle")
	}

	registry, err := category.NewRegistry(category.Config{
		Prices: priceOracle,
		Supply: pairSource,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create category registry")
	}
	categoryID := types.CategoryID(config.CategoryID)
	if err := registry.AddCategory(categoryID); err != nil {
		log.Fatal().Err(err).Msg("Failed to create category")
	}
	symbols := make(map[common.Address]string, len(config.TrackedTokens))
	for _, t := range config.TrackedTokens {
		if err := registry.AddToken(categoryID, t.Token); err != nil {
			log.Fatal().Err(err).Str("symbol", t.Symbol).Msg("Failed to whitelist token")
		}
		symbols[t.Token] = t.Symbol
	}
	log.Info().Int("tokens", len(config.TrackedTokens)).Msg("Category whitelisted")

	// --- 3. Pool Engine ---
	swapFee, err := sdkmath.LegacyNewDecFromStr(config.SwapFee)
	if err != nil {
		log.Fatal().Err(err).Str("swap_fee", config.SwapFee).Msg("Invalid swap fee")
	}

	tokenLedger := ledger.NewInMemory()
	unbind := &loggingUnbindHandler{recipient: common.HexToAddress(config.UnbindRecipient)}
	indexPool, err := pool.New(pool.Config{
		Address:       common.HexToAddress(config.PoolAddress),
		Ledger:        tokenLedger,
		UnbindHandler: unbind,
		SwapFee:       swapFee,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pool")
	}

	if err := seedPool(indexPool, tokenLedger); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed pool from INITIAL_BALANCES")
	}

	// --- 4. Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}
	webServer := web.NewWebServer(webPort, indexPool, symbols)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting index dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Rebalance Loop ---
	orch, err := orchestrator.New(orchestrator.Config{
		Pool:       indexPool,
		Oracle:     priceOracle,
		Registry:   registry,
		Sink:       state.Store{},
		CategoryID: categoryID,
		IndexSize:  config.IndexSize,
		Symbols:    symbols,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create orchestrator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Starting rebalance loop")
	orch.RunLoop(ctx)
}

// loggingUnbindHandler receives residual balances of removed tokens at a
// configured address.
type loggingUnbindHandler struct {
	recipient common.Address
}

func (h *loggingUnbindHandler) Address() common.Address { return h.recipient }

func (h *loggingUnbindHandler) HandleUnbindToken(token common.Address, amount sdkmath.Int) error {
	log.Info().
		Str("token", token.Hex()).
		Str("amount", amount.String()).
		Msg("Received residual balance of removed token")
	return nil
}

// seedPool initializes the pool from INITIAL_BALANCES, a comma separated
// list of "SYMBOL=balance@weight" entries minted to OPERATOR_ADDRESS.
// Symbols must appear in TOKEN_PAIRS.
func seedPool(p *pool.Pool, l *ledger.InMemory) error {
	raw := os.Getenv("INITIAL_BALANCES")
	if raw == "" {
		log.Warn().Msg("INITIAL_BALANCES not set, pool starts uninitialized")
		return nil
	}
	operator := common.HexToAddress(os.Getenv("OPERATOR_ADDRESS"))

	bySymbol := make(map[string]common.Address, len(config.TrackedTokens))
	for _, t := range config.TrackedTokens {
		bySymbol[t.Symbol] = t.Token
	}

	var initial []pool.InitialToken
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		symbol, rest, ok := strings.Cut(entry, "=")
		if !ok {
			log.Fatal().Str("entry", entry).Msg("INITIAL_BALANCES entry missing '='")
		}
		balanceStr, weightStr, ok := strings.Cut(rest, "@")
		if !ok {
			log.Fatal().Str("entry", entry).Msg("INITIAL_BALANCES entry missing '@'")
		}
		token, ok := bySymbol[strings.TrimSpace(symbol)]
		if !ok {
			log.Fatal().Str("symbol", symbol).Msg("INITIAL_BALANCES symbol not in TOKEN_PAIRS")
		}
		balance, ok := sdkmath.NewIntFromString(strings.TrimSpace(balanceStr))
		if !ok {
			log.Fatal().Str("entry", entry).Msg("INITIAL_BALANCES has an invalid balance")
		}
		weight, err := sdkmath.LegacyNewDecFromStr(strings.TrimSpace(weightStr))
		if err != nil {
			log.Fatal().Err(err).Str("entry", entry).Msg("INITIAL_BALANCES has an invalid weight")
		}
		if err := l.Mint(token, operator, balance); err != nil {
			return err
		}
		initial = append(initial, pool.InitialToken{Token: token, Balance: balance, Weight: weight})
	}

	if err := p.Initialize(operator, initial); err != nil {
		return err
	}
	log.Info().Int("tokens", len(initial)).Msg("Pool seeded")
	return nil
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
