package pinottest

import (
	"fmt"
	"net/url"

	"github.com/startreedata/pinot-client-go/pinot"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/config"
)

// NativeConnection opens a pinot-client-go connection to the broker in
// pinot.broker.url. The broker is given explicitly rather than discovered
// through the controller, whose broker list names in-network hosts the test
// process cannot reach. With multistage false queries run on the
// single-stage engine.
func NativeConnection(multistage bool) (*pinot.Connection, error) {
	broker, err := brokerAddress(config.BrokerURL())
	if err != nil {
		return nil, err
	}
	conn, err := pinot.NewFromBrokerList([]string{broker})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", broker, err)
	}
	conn.UseMultistageEngine(multistage)
	return conn, nil
}

// brokerAddress reduces a broker URL to the host:port pinot-client-go expects
func brokerAddress(brokerURL string) (string, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return "", fmt.Errorf("invalid broker url %q: %w", brokerURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid broker url %q: missing host", brokerURL)
	}
	return u.Host, nil
}
