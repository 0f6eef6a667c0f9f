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

package database

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// envBinding maps one DB_* environment variable onto a Config field.
type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"DB_TYPE", setString(func(c *Config) *string { return &c.ConnectionConfig.Type })},
	{"DB_HOST", setString(func(c *Config) *string { return &c.ConnectionConfig.Host })},
	{"DB_PORT", setInt(func(c *Config) *int { return &c.ConnectionConfig.Port })},
	{"DB_USERNAME", setString(func(c *Config) *string { return &c.ConnectionConfig.Username })},
	{"DB_PASSWORD", setString(func(c *Config) *string { return &c.ConnectionConfig.Password })},
	{"DB_NAME", setString(func(c *Config) *string { return &c.ConnectionConfig.DBName })},
	{"DB_SSLMODE", setString(func(c *Config) *string { return &c.ConnectionConfig.SSLMode })},
	{"DB_MAX_IDLE_CONNS", setInt(func(c *Config) *int { return &c.ConnectionConfig.MaxIdleConns })},
	{"DB_MAX_OPEN_CONNS", setInt(func(c *Config) *int { return &c.ConnectionConfig.MaxOpenConns })},
	{"DB_CONN_MAX_LIFETIME", setDuration(func(c *Config) *time.Duration { return &c.ConnectionConfig.ConnMaxLifetime })},
	{"DB_SLOW_QUERY_TIME", setDuration(func(c *Config) *time.Duration { return &c.ConnectionConfig.SlowQueryTime })},
	{"DB_ENABLE_RECONNECT", setBool(func(c *Config) *bool { return &c.ConnectionConfig.EnableReconnect })},
	{"DB_ENABLE_QUERY_LOG", setBool(func(c *Config) *bool { return &c.ConnectionConfig.EnableQueryLog })},
	{"DB_SYNCHRONIZE", setBool(func(c *Config) *bool { return &c.DataMigrateConfig.Synchronize })},
	{"DB_DROP_SCHEMA", setBool(func(c *Config) *bool { return &c.DataMigrateConfig.DropSchema })},
	{"DB_ENABLE_FOREIGN_KEY", setBool(func(c *Config) *bool { return &c.DataMigrateConfig.EnableForeignKey })},
	{"DB_FOREIGN_KEY_FILE", setString(func(c *Config) *string { return &c.DataMigrateConfig.ForeignKeyFile })},
}

// ApplyEnv overrides c with the DB_* variables present in the environment.
// Unparsable values are skipped and reported together.
func (c *Config) ApplyEnv() error {
	var errs []error
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.key, err))
		}
	}
	return errors.Join(errs...)
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// setDuration accepts Go durations ("90s") or a plain number of seconds.
func setDuration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		if d, err := time.ParseDuration(v); err == nil {
			*field(c) = d
			return nil
		}
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*field(c) = time.Duration(secs) * time.Second
		return nil
	}
}
