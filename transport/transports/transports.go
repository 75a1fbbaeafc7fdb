// Package transports pulls in every built-in backend. A blank import of
// this package puts all of them into the default registry at once.
package transports

import (
	// Each backend registers itself in its init.
	_ "github.com/drblury/relayflow/transport/aws"
	_ "github.com/drblury/relayflow/transport/channel"
	_ "github.com/drblury/relayflow/transport/http"
	_ "github.com/drblury/relayflow/transport/io"
	_ "github.com/drblury/relayflow/transport/jetstream"
	_ "github.com/drblury/relayflow/transport/kafka"
	_ "github.com/drblury/relayflow/transport/nats"
	_ "github.com/drblury/relayflow/transport/postgres"
	_ "github.com/drblury/relayflow/transport/rabbitmq"
	_ "github.com/drblury/relayflow/transport/sqlite"
)
