package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hwEncoderLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "hwenc",
		Name:      "load_percent",
		Help:      "Hardware encoder block load as reported by the kernel driver",
	}, []string{"device"})

	hwEncoderUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "avrec",
		Subsystem: "hwenc",
		Name:      "utilization_percent",
		Help:      "Hardware encoder block utilization as reported by the kernel driver",
	}, []string{"device"})
)

// SetHWEncoderLoad sets the load percentage of a hardware encoder block.
func SetHWEncoderLoad(device string, load float64) {
	hwEncoderLoad.WithLabelValues(device).Set(load)
}

// SetHWEncoderUtilization sets the utilization percentage of a hardware encoder block.
func SetHWEncoderUtilization(device string, utilization float64) {
	hwEncoderUtilization.WithLabelValues(device).Set(utilization)
}

// DeleteHWEncoderMetrics removes the series of a device.
func DeleteHWEncoderMetrics(device string) {
	hwEncoderLoad.DeleteLabelValues(device)
	hwEncoderUtilization.DeleteLabelValues(device)
}

// HWEncoderLoadCollector exposes the load gauge for tests and custom registries.
func HWEncoderLoadCollector() prometheus.Collector {
	return hwEncoderLoad
}
