package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should use the kicker namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "kicker")
				So(manager.subsystem, ShouldEqual, "ratings")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithMetricPrefix("p"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(false),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options should be applied", func() {
				So(manager.namespace, ShouldEqual, "test")
				So(manager.subsystem, ShouldEqual, "unit")
				So(manager.enabled, ShouldBeFalse)
				So(manager.refreshInterval, ShouldEqual, 5*time.Second)
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
			})

			Convey("And metric names should carry the prefix", func() {
				manager.playersRegistered.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := make(map[string]bool)
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_p_players_registered_total"], ShouldBeTrue)
			})
		})

		Convey("When options receive empty values", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithHistogramBuckets(nil),
				WithRefreshInterval(-time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "kicker")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.refreshInterval, ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording a match", func() {
			before := testutil.ToFloat64(globalManager.matchesRecorded.WithLabelValues("draw"))
			RecordMatchRecorded("draw")

			Convey("Then the outcome counter should increase", func() {
				after := testutil.ToFloat64(globalManager.matchesRecorded.WithLabelValues("draw"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When setting gauges", func() {
			UpdatePlayersTotal(12)
			UpdateMatchesTotal(34)
			UpdateQueueSize(3)
			UpdateQueueCapacity(10)

			Convey("Then they should hold the last value", func() {
				So(testutil.ToFloat64(globalManager.playersTotal), ShouldEqual, 12)
				So(testutil.ToFloat64(globalManager.matchesTotal), ShouldEqual, 34)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 10)
			})
		})

		Convey("When adjusting the active worker gauge", func() {
			start := testutil.ToFloat64(globalManager.workerActiveCount)
			UpdateWorkerActiveCount(1)
			UpdateWorkerActiveCount(1)
			UpdateWorkerActiveCount(-1)

			Convey("Then it should track the net change", func() {
				So(testutil.ToFloat64(globalManager.workerActiveCount)-start, ShouldEqual, 1)
			})
		})

		Convey("When recording the remaining collectors", func() {
			Convey("Then none of them should panic", func() {
				So(func() {
					RecordSubmissionDuplicate()
					RecordSubmissionRejected("invalid_input")
					RecordSubmissionLatency(3.5)
					RecordPlayerRegistered()
					RecordAmbiguousLookup()
					RecordStoreLatency("memory", "submit", 0.2)
					RecordStoreError("sqlite", "find_by_name")
					RecordStoreConflict()
					RecordHTTPRequest("/matches", "POST", "201")
					RecordHTTPRequestDuration("/matches", "POST", "201", 4)
					UpdateQueueUtilization(0.3)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					UpdateWorkerCount(2)
					RecordWorkerProcessingLatency(12)
					RecordWorkerError()
					RecordNotificationSent("discord")
					RecordNotificationFailed("slack")
					RecordNotificationDropped()
					RecordErrorByComponent("store", "timeout")
					RecordErrorByType("timeout", "error")
					RecordErrorByEndpoint("/matches", "POST", "store_unavailable")
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(8)
				}, ShouldNotPanic)
			})
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		RecordPlayerRegistered()
		families, err := GetRegistry().Gather()

		Convey("Then it should expose kicker metrics only", func() {
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
			for _, f := range families {
				So(f.GetName(), ShouldStartWith, "kicker_ratings_")
			}
		})
	})
}
