/*
 * Copyright 2025 tomoncle.
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

package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel(" warning "))
	assert.Equal(t, logrus.ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("nonsense"))
}

func TestLog4jColorFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&Log4jColorFormatter{LoggerName: "TEST", NameWidth: 6})

	l.WithField("table", "actions").Info("saved")
	line := buf.String()
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "[  TEST]")
	assert.Contains(t, line, ": saved table=actions")
	assert.NotContains(t, line, "\x1b[")
}

func TestJSONLogFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&JSONLogFormatter{LoggerName: "TEST"})

	l.WithError(errors.New("boom")).Warn("failed")
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warning", rec["level"])
	assert.Equal(t, "TEST", rec["logger"])
	assert.Equal(t, "failed", rec["message"])
	assert.Equal(t, map[string]interface{}{"error": "boom"}, rec["fields"])
}

func TestLoggerRegistry(t *testing.T) {
	l := NewLogger("REGISTRY_TEST")
	assert.True(t, SetLoggerLevel("REGISTRY_TEST", "debug"))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.False(t, SetLoggerLevel("UNKNOWN_LOGGER", "debug"))
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("SHADOWFK_TEST_BOOL", "false")
	t.Setenv("SHADOWFK_TEST_BAD_BOOL", "maybe")
	t.Setenv("SHADOWFK_TEST_STRING", "value")

	assert.False(t, EnvDefaultBool("SHADOWFK_TEST_BOOL", true))
	assert.True(t, EnvDefaultBool("SHADOWFK_TEST_BAD_BOOL", true))
	assert.True(t, EnvDefaultBool("SHADOWFK_TEST_UNSET", true))
	assert.Equal(t, "value", EnvDefaultString("SHADOWFK_TEST_STRING", "x"))
	assert.Equal(t, "x", EnvDefaultString("SHADOWFK_TEST_UNSET", "x"))
}
