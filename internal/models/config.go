/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import "time"

// Ledger backends selectable via LEDGER_BACKEND
const (
	BackendSqlite   = "sqlite"
	BackendPostgres = "postgres"
	BackendFormance = "formance"
)

// Config represents the application configuration
type Config struct {
	Backend     string
	CatalogFile string
	Database    DatabaseConfig
	Formance    FormanceConfig
	Server      ServerConfig
	Redemption  RedemptionConfig
	Reconciler  ReconcilerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver           string
	Path             string
	Url              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	PingTimeout      time.Duration
	BusyTimeout      time.Duration
	CreateDummyUsers bool
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	ReplayCacheSize int
}

// RedemptionConfig controls retry and cancellation behaviour of redemptions
type RedemptionConfig struct {
	OperationTimeout time.Duration
	RetryInitial     time.Duration
	RetryMaxElapsed  time.Duration
}

// ReconcilerConfig holds background reconciliation settings
type ReconcilerConfig struct {
	Interval time.Duration
	Workers  int
}
