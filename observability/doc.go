// Package observability provides the telemetry seam injected into every
// flowkit primitive.
//
// A Collector is a span factory plus counter, histogram and gauge recording.
// Primitives hold one per instance and default to Nop(), so telemetry is
// suppressed unless the host wires a real collector in. No primitive reads
// global OpenTelemetry state on its own.
//
// OpenTelemetry:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("checkout"))
//	defer tp.Shutdown(ctx)
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("checkout"))
//	defer mp.Shutdown(ctx)
//
//	collector := observability.NewOTelCollector(tp.Tracer("flowkit"), mp.Meter("flowkit"))
//
// Prometheus:
//
//	collector := observability.NewPrometheusCollector(prometheus.DefaultRegisterer, "flowkit")
//
// Health:
//
//	health := observability.NewServiceHealth("checkout", "1.0.0")
//	health.AddComponent(engine.CheckHealth(ctx))
package observability
