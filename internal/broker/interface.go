package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

// Broker defines the interface for interacting with the brokerage.
type Broker interface {
	// Account operations
	GetAccount(ctx context.Context) (*Account, error)

	// Market data
	GetMarketClock(ctx context.Context) (*MarketClock, error)
	IsMarketOpen(ctx context.Context) (bool, error)
	GetLatestQuote(ctx context.Context, symbol string) (*Quote, error)
	GetLatestTrade(ctx context.Context, symbol string) (*Trade, error)
	GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]models.HistoricalBar, error)
	GetOptionChain(ctx context.Context, underlying string, gte, lte time.Time, typ models.OptionType) (models.OptionChain, error)
	GetOptionQuote(ctx context.Context, optionSymbol string) (*Quote, error)
	GetOptionDayTradeCount(ctx context.Context, optionSymbol string) (int, error)

	// Order operations
	GetOpenOrders(ctx context.Context) ([]models.OpenOrder, error)
	GetOrder(ctx context.Context, orderID string) (*models.OpenOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
	SubmitMultiLegOrder(ctx context.Context, req MultiLegOrderRequest) (*models.OpenOrder, error)
}

// Ensure AlpacaAPI implements Broker at compile time.
var _ Broker = (*AlpacaAPI)(nil)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetAccount wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccount(ctx context.Context) (*Account, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Account, error) {
		return b.GetAccount(ctx)
	})
}

// GetMarketClock wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetMarketClock(ctx context.Context) (*MarketClock, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*MarketClock, error) {
		return b.GetMarketClock(ctx)
	})
}

// IsMarketOpen wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (bool, error) {
		return b.IsMarketOpen(ctx)
	})
}

// GetLatestQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetLatestQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) {
		return b.GetLatestQuote(ctx, symbol)
	})
}

// GetLatestTrade wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetLatestTrade(ctx context.Context, symbol string) (*Trade, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Trade, error) {
		return b.GetLatestTrade(ctx, symbol)
	})
}

// GetDailyBars wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]models.HistoricalBar, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.HistoricalBar, error) {
		return b.GetDailyBars(ctx, symbol, start, end)
	})
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, underlying string, gte, lte time.Time, typ models.OptionType) (models.OptionChain, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.OptionChain, error) {
		return b.GetOptionChain(ctx, underlying, gte, lte, typ)
	})
}

// GetOptionQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionQuote(ctx context.Context, optionSymbol string) (*Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) {
		return b.GetOptionQuote(ctx, optionSymbol)
	})
}

// GetOptionDayTradeCount wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionDayTradeCount(ctx context.Context, optionSymbol string) (int, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (int, error) {
		return b.GetOptionDayTradeCount(ctx, optionSymbol)
	})
}

// GetOpenOrders wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOpenOrders(ctx context.Context) ([]models.OpenOrder, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.OpenOrder, error) {
		return b.GetOpenOrders(ctx)
	})
}

// GetOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOrder(ctx context.Context, orderID string) (*models.OpenOrder, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.OpenOrder, error) {
		return b.GetOrder(ctx, orderID)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(ctx, orderID)
	})
	return err
}

// SubmitMultiLegOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubmitMultiLegOrder(ctx context.Context, req MultiLegOrderRequest) (*models.OpenOrder, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.OpenOrder, error) {
		return b.SubmitMultiLegOrder(ctx, req)
	})
}
