package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/newrelic/go-agent/v3/newrelic"
)

const contextTransaction = "nr_txn"

// NewRelicMiddleware starts a web transaction per request. A nil app disables it.
func NewRelicMiddleware(app *newrelic.Application) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if app == nil {
			return next
		}
		return func(c echo.Context) error {
			req := c.Request()
			name := req.Method + " " + c.Path()
			if c.Path() == "" {
				name = req.Method + " " + req.URL.Path
			}

			txn := app.StartTransaction(name)
			defer txn.End()

			txn.SetWebRequestHTTP(req)
			c.Response().Writer = txn.SetWebResponse(c.Response().Writer)
			c.SetRequest(req.WithContext(newrelic.NewContext(req.Context(), txn)))
			c.Set(contextTransaction, txn)

			err := next(c)
			if err != nil {
				txn.NoticeError(err)
			}
			return err
		}
	}
}

// TransactionFromContext returns the request transaction or nil
func TransactionFromContext(c echo.Context) *newrelic.Transaction {
	if txn, ok := c.Get(contextTransaction).(*newrelic.Transaction); ok {
		return txn
	}
	return newrelic.FromContext(c.Request().Context())
}

// AddAttribute adds a custom attribute to the current transaction
func AddAttribute(c echo.Context, key string, value interface{}) {
	if txn := TransactionFromContext(c); txn != nil {
		txn.AddAttribute(key, value)
	}
}

// NoticeError reports an error to New Relic
func NoticeError(c echo.Context, err error) {
	if txn := TransactionFromContext(c); txn != nil {
		txn.NoticeError(err)
	}
}

// SetTripID tags the current transaction with the trip being operated on
func SetTripID(c echo.Context, tripID string) {
	AddAttribute(c, "trip.id", tripID)
}
