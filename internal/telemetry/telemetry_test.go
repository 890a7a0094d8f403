package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestConfigSampler(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  string
	}{
		{name: "unset samples everything", ratio: 0, want: sdktrace.AlwaysSample().Description()},
		{name: "one samples everything", ratio: 1, want: sdktrace.AlwaysSample().Description()},
		{name: "ratio", ratio: 0.25, want: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Config{SampleRatio: tt.ratio}.sampler().Description())
		})
	}
}

func TestGetMetricsIsUsableWithoutProvider(t *testing.T) {
	m := GetMetrics()
	require.Same(t, m, GetMetrics())

	// The global no-op provider accepts recordings
	ctx := context.Background()
	m.RecordOperation(ctx, "activate", "conflict", 1.5)
	m.RecordTransition(ctx, "inactive", "active")
}
