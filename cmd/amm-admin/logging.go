package main

import (
	"io"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/amm-admin/pkg/clientconfig"
	"github.com/code-payments/amm-admin/pkg/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

// newMetricsProvider starts a New Relic application when a license key is
// configured. It returns nil otherwise.
func newMetricsProvider(tunables clientconfig.Tunables) (*newrelic.Application, error) {
	if tunables.NewRelicLicenseKey == "" {
		return nil, nil
	}

	nr, err := newrelic.NewApplication(
		newrelic.ConfigFromEnvironment(),
		newrelic.ConfigAppName(appName),
		newrelic.ConfigLicense(tunables.NewRelicLicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "error initializing new relic")
	}
	return nr, nil
}

func configureLogger(tunables clientconfig.Tunables, out io.Writer, metricsProvider *newrelic.Application) {
	if metricsProvider != nil {
		logrus.SetFormatter(metrics.NewLogForwardingFormatter(metricsProvider, &logrus.JSONFormatter{}))
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(strings.ToLower(tunables.LogLevel))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", tunables.LogLevel).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(level)
	}

	// Stdout only carries command results.
	logrus.SetOutput(out)
}
