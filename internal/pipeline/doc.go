// Package pipeline runs a job: resolve the branch, refresh the checkout,
// fine-tune, then run the inference smoke test. Steps run strictly in order
// and the first failure skips the rest.
package pipeline
