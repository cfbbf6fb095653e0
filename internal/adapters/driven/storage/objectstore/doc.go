// Package objectstore provides a cache backend on S3-compatible object
// storage (minio-go). It suits the large, long-lived tiers: alignments and
// weights manifests.
//
// Each entry is one object named "<prefix>/<tier>/<key>". The payload is the
// object body; version, creation and expiry times travel as user metadata.
package objectstore
