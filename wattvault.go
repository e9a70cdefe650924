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

package wattvault

import (
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/database"
	redis_db "github.com/wattvault/wattvault/internal/redis-db"
)

// Wattvault is the facade over the ledger, wallet, payment, refund and
// reconciliation services. One instance is shared by the API server and the
// background workers.
type Wattvault struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	gateway    PaymentGatewayPort
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewWattvault wires the service against the given datasource, using the
// gateway named in the configuration for external payment movements.
func NewWattvault(db database.IDataSource) (*Wattvault, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	gateway := NewHTTPPaymentGateway(configuration.Gateway)

	return &Wattvault{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		gateway:    gateway,
	}, nil
}

// SetGateway swaps the payment gateway port. Used by tests and by deployments
// that bring their own gateway integration.
func (w *Wattvault) SetGateway(gateway PaymentGatewayPort) {
	w.gateway = gateway
}
