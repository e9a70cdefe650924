/*
Copyright 2025 WattVault Authors.

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
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/cache"
)

var instance *Datasource
var once sync.Once

// Datasource bundles the SQL connection with the read-through cache. All
// repository methods hang off it.
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

// GetDBConnection initializes the shared connection on first use and returns
// it afterwards.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache initialization failed, continuing without cache: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	driver := "postgres"
	if strings.HasPrefix(dns, "mysql://") {
		driver = "mysql"
		dns = strings.TrimPrefix(dns, "mysql://")
	}
	db, err := sql.Open(driver, dns)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	return db, nil
}
