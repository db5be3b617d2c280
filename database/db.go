/*
Copyright 2025 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/tallyops/tally/cache"
	"github.com/tallyops/tally/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error ❌: %v", err)
		return nil, err
	}
	err = createConfigTable(db)
	if err != nil {
		return nil, err
	}
	err = createRunTable(db)
	if err != nil {
		return nil, err
	}
	err = createRunRowTable(db)
	if err != nil {
		return nil, err
	}
	err = createRunMatchTable(db)
	if err != nil {
		return nil, err
	}
	err = createRunExceptionTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createConfigTable creates a PostgreSQL table for the ReconciliationConfig struct
func createConfigTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reconciliation_configs (
			id SERIAL PRIMARY KEY,
			config_id TEXT NOT NULL UNIQUE,
			organization_id TEXT NOT NULL,
			binding_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			source_a_config JSONB NOT NULL,
			source_b_config JSONB NOT NULL,
			matching_rules JSONB NOT NULL,
			viewers JSONB,
			created_by TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (organization_id, name)
		)
	`)
	if err != nil {
		log.Printf("Error creating reconciliation_configs table: %v", err)
	}
	return err
}

// createRunTable creates the hot summary table for runs. Rows, matches
// and exceptions live in their own tables so summary reads stay cheap.
func createRunTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			config_id TEXT NOT NULL REFERENCES reconciliation_configs(config_id),
			organization_id TEXT NOT NULL,
			period TEXT,
			status TEXT NOT NULL,
			matching_rules JSONB NOT NULL,
			source_a_config JSONB NOT NULL,
			source_b_config JSONB NOT NULL,
			source_a_meta JSONB,
			source_b_meta JSONB,
			total_source_a NUMERIC NOT NULL DEFAULT 0,
			total_source_b NUMERIC NOT NULL DEFAULT 0,
			matched_count INTEGER NOT NULL DEFAULT 0,
			exception_count INTEGER NOT NULL DEFAULT 0,
			variance NUMERIC NOT NULL DEFAULT 0,
			created_by TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP,
			completed_by TEXT
		)
	`)
	if err != nil {
		log.Printf("Error creating runs table: %v", err)
	}
	return err
}

// createRunRowTable creates the cold store for parsed source rows.
func createRunRowTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_rows (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			side TEXT NOT NULL CHECK (side IN ('a', 'b')),
			position INTEGER NOT NULL,
			row_key TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			date TIMESTAMP NOT NULL,
			description TEXT,
			reference TEXT,
			fields JSONB,
			UNIQUE (run_id, side, position)
		)
	`)
	if err != nil {
		log.Printf("Error creating run_rows table: %v", err)
	}
	return err
}

// createRunMatchTable creates the cold store for matched pairs.
func createRunMatchTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_matches (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			ordinal INTEGER NOT NULL,
			a_row_key TEXT NOT NULL,
			b_row_key TEXT NOT NULL,
			method TEXT NOT NULL CHECK (method IN ('exact', 'scored')),
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			UNIQUE (run_id, ordinal)
		)
	`)
	if err != nil {
		log.Printf("Error creating run_matches table: %v", err)
	}
	return err
}

// createRunExceptionTable creates the keyed exception store. The unique
// key per run is what makes reviewer updates target exactly one record.
func createRunExceptionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_exceptions (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			exception_key TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			side TEXT NOT NULL CHECK (side IN ('a', 'b')),
			row_key TEXT NOT NULL,
			category TEXT NOT NULL,
			resolution TEXT NOT NULL DEFAULT 'pending',
			notes TEXT,
			resolved_by TEXT,
			UNIQUE (run_id, exception_key)
		)
	`)
	if err != nil {
		log.Printf("Error creating run_exceptions table: %v", err)
	}
	return err
}
