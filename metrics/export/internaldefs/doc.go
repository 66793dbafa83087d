// Package internaldefs names every exported cafeauth series and turns a
// metrics snapshot into exporter-neutral histogram data, so the Prometheus
// and OTel exporters publish the same thing.
package internaldefs
