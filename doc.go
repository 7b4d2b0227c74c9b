// Package edgeinfer runs a small quantized image classifier on a device with
// a fixed memory budget.
//
// Every tensor and kernel scratch buffer lives in one arena reserved once at
// startup from an external memory pool. The engine plans the arena with a
// liveness-aware packer, so a model either fits before the first frame is
// seen or fails to start. Nothing is allocated per inference.
//
// # Architecture Overview
//
// A detection cycle acquires an image, invokes the engine and hands the
// category scores to a responder:
//
//   - model: Versioned, checksummed flat model blob and its validating loader
//   - kernels: Operator registry and the int8 reference kernels
//   - runtime: Memory pool, arena, buffer planner and the execution engine
//   - pipeline: Startup sequence, pull and push input, score dispatch
//   - capture: Frame sources for pull mode
//   - respond: Log, JSON and MQTT responders
//   - profiling: Per-operator counters, compiled in with the "profile" tag
//   - compiler: YAML model descriptions to model blobs
//   - cmd: Command-line tools (edgec, edgerun, edgeperf)
//
// # Basic Usage
//
//	// Emit the reference classifier and run it on a directory of images
//	edgec -reference model.edge
//	EDGE_MODEL=model.edge EDGE_FRAME_DIR=frames edgerun run
//
//	// Or classify in-process
//	p, err := pipeline.New(pipeline.Config{
//	    Settings:  pipeline.DefaultSettings(),
//	    Model:     blob,
//	    Pool:      runtime.NewHeapPool("psram", 8<<20),
//	    Source:    capture.NewPatternSource(),
//	    Responder: respond.LogResponder{Logger: slog.Default()},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = p.Step(ctx)
package edgeinfer
