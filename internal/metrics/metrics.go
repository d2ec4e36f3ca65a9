// Package metrics holds the shared Prometheus namespace and collector helpers.
package metrics

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by docsync.
const Namespace = "docsync"

// Collector is implemented by components that export metrics.
type Collector interface {
	Metrics() []prometheus.Collector
}

// PrometheusCollectorsFromFields returns every exported field of the metrics struct i
// that is a prometheus.Collector.
func PrometheusCollectorsFromFields(i any) (cs []prometheus.Collector) {
	v := reflect.Indirect(reflect.ValueOf(i))
	if v.Kind() != reflect.Struct {
		return nil
	}
	for idx := 0; idx < v.NumField(); idx++ {
		if !v.Field(idx).CanInterface() {
			continue
		}
		if u, ok := v.Field(idx).Interface().(prometheus.Collector); ok {
			cs = append(cs, u)
		}
	}
	return cs
}

// Register registers the collectors of every component on reg.
func Register(reg prometheus.Registerer, components ...Collector) error {
	for _, c := range components {
		for _, col := range c.Metrics() {
			if err := reg.Register(col); err != nil {
				return err
			}
		}
	}
	return nil
}
