package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer abc, x-team = hub ,broken,=empty")
	require.Equal(t, map[string]string{"authorization": "Bearer abc", "x-team": "hub"}, headers)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_SDK_DISABLED", "")
	cfg := FromEnv("hubd", "test")
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.True(t, cfg.Insecure)
	require.True(t, cfg.Traces)

	t.Setenv("OTEL_SDK_DISABLED", "true")
	require.False(t, FromEnv("hubd", "test").Metrics)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "hubd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestFromEnvExportInterval(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_METRIC_EXPORT_INTERVAL", "5000")
	cfg := FromEnv("hubd", "")
	require.Equal(t, 5*time.Second, cfg.ExportInterval)
	require.False(t, cfg.Traces)
	require.False(t, cfg.Metrics)
}
