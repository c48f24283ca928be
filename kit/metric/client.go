package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// REDClient records RED-style metrics (request count, error count, duration)
// for service methods.
type REDClient struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates a new REDClient for the given service and registers its
// collectors with reg.
func New(reg prometheus.Registerer, service string, opts ...ClientOptFn) *REDClient {
	o := metricOpts{
		namespace: "service",
		service:   service,
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := &REDClient{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: o.serviceName(),
			Name:      "call_total",
			Help:      "Number of calls",
		}, []string{"method", "error"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Subsystem: o.serviceName(),
			Name:      "duration",
			Help:      "Duration of calls",
		}, []string{"method"}),
	}
	reg.MustRegister(client.calls, client.duration)
	return client
}

// Record returns a record function for the given method. The returned
// function records the metrics of the method call when invoked with the
// call's error result, and passes that error through.
func (c *REDClient) Record(method string) func(error) error {
	start := time.Now()
	return func(err error) error {
		c.calls.With(prometheus.Labels{
			"method": method,
			"error":  strconv.FormatBool(err != nil),
		}).Inc()
		c.duration.With(prometheus.Labels{
			"method": method,
		}).Observe(time.Since(start).Seconds())
		return err
	}
}

type metricOpts struct {
	namespace     string
	service       string
	serviceSuffix string
}

func (o metricOpts) serviceName() string {
	if o.serviceSuffix != "" {
		return o.service + "_" + o.serviceSuffix
	}
	return o.service
}

// ClientOptFn is an option used by a metric client.
type ClientOptFn func(*metricOpts)

// WithSuffix returns a metric option that applies a suffix to the service
// name of the metric.
func WithSuffix(suffix string) ClientOptFn {
	return func(o *metricOpts) {
		o.serviceSuffix = suffix
	}
}
