package metrics

import "github.com/jackc/pgx/v5/pgxpool"

// RecordDBPoolMetrics samples the pool and publishes the per-state
// connection gauges. Called on a ticker from the app.
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	stats := pool.Stat()
	for state, count := range map[string]int32{
		"in_use": stats.AcquiredConns(),
		"idle":   stats.IdleConns(),
		"max":    stats.MaxConns(),
	} {
		DBPoolConnections.WithLabelValues(state).Set(float64(count))
	}
}
