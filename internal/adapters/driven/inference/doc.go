// Package inference provides HTTP adapters for the model service.
//
// A single Client implements every model-side port: structure inference,
// MSA search, checkpoint resolution and hard-constraint checking. The
// service reports failures as JSON {"error": {"code", "message"}} bodies;
// codes that drive degradation are mapped onto domain sentinels.
//
// Endpoints:
//
//	POST /v1/infer                       driven.Predictor
//	POST /v1/msa                         driven.AlignmentService
//	GET  /v1/weights/{version}/{variant} driven.WeightsRegistry
//	POST /v1/check                       driven.ConstraintChecker
//
// ThrottledPredictor wraps any Predictor with a token bucket so a batch of
// screening requests cannot flood the accelerator queue.
package inference
