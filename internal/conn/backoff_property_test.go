package conn

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBackoffDelayProperty verifies delay(attempt) = min(base * 2^(attempt-1), max)
// for all attempts >= 1 across arbitrary base delays and caps.
func TestBackoffDelayProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("delay doubles per attempt and is capped", prop.ForAll(
		func(baseMs int, maxMs int, attempt int) bool {
			cfg := Config{
				ReconnectDelay:    time.Duration(baseMs) * time.Millisecond,
				MaxReconnectDelay: time.Duration(maxMs) * time.Millisecond,
			}

			// Independent computation of min(base * 2^(attempt-1), max),
			// in milliseconds to avoid Duration overflow.
			expected := int64(baseMs)
			for i := 1; i < attempt && expected < int64(maxMs); i++ {
				expected *= 2
			}
			if expected > int64(maxMs) {
				expected = int64(maxMs)
			}

			return backoffDelay(cfg, attempt) == time.Duration(expected)*time.Millisecond
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 120000),
		gen.IntRange(1, 30),
	))

	properties.Property("delay is monotonically non-decreasing in attempts", prop.ForAll(
		func(baseMs int, attempt int) bool {
			cfg := Config{
				ReconnectDelay:    time.Duration(baseMs) * time.Millisecond,
				MaxReconnectDelay: 30 * time.Second,
			}
			return backoffDelay(cfg, attempt+1) >= backoffDelay(cfg, attempt)
		},
		gen.IntRange(1, 5000),
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}
