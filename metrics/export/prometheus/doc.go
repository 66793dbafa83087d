// Package prometheus renders cafeauth engine metrics in the Prometheus text
// exposition format (version 0.0.4) without a client library or a global
// registry. Mount [Exporter.Handler] wherever the scraper expects it.
package prometheus
