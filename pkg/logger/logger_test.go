/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	config := &Config{
		Level:  "warn",
		Debug:  true,
		Output: "stdout",
	}

	require.NoError(t, Init(context.Background(), config))
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel(), "debug overrides level")

	config.Debug = false
	require.NoError(t, Init(context.Background(), config))
	assert.Equal(t, zerolog.WarnLevel, GetLogger().GetLevel())

	config.Level = "loud"
	require.Error(t, Init(context.Background(), config))
}

func TestSetDebug(t *testing.T) {
	SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	SetDebug(false)
	assert.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())
}

func TestWithComponent(t *testing.T) {
	assert.NotEqual(t, zerolog.Disabled, WithComponent("node").GetLevel())
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "a=1, b = 2,broken")

	config := DefaultConfig()

	assert.Equal(t, "info", config.Level)
	assert.Equal(t, "stdout", config.Output)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, config.OTel.Headers)
	assert.Equal(t, defaultServiceName, config.OTel.serviceName())
}

func TestExportersDisabledWithoutEndpoint(t *testing.T) {
	ctx := context.Background()

	_, err := InitializeMetrics(ctx, MetricsConfig{OTel: &OTelConfig{Enabled: true}})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)

	_, err = InitializeTracing(ctx, TracingConfig{})
	require.ErrorIs(t, err, ErrOTelTracingDisabled)

	_, err = NewOTELWriter(ctx, OTelConfig{Enabled: true})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)

	require.NoError(t, ShutdownOTEL(ctx))
}

func TestAttributeString(t *testing.T) {
	assert.Equal(t, "x", attributeString("x"))
	assert.Equal(t, "null", attributeString(nil))
	assert.Equal(t, "42", attributeString(float64(42)))
	assert.Equal(t, `{"a":true}`, attributeString(map[string]interface{}{"a": true}))
	assert.Len(t, attributeString(string(make([]byte, 2*maxAttributeLength))), maxAttributeLength)
}
